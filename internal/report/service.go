// Package report turns a citizen's submission into a pending job: it validates the
// fields, classifies the photo, stores the evidence and records the job.
package report

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"dumpsite-dispatch/internal/blob"
	"dumpsite-dispatch/internal/classifier"
	"dumpsite-dispatch/internal/ledger"
	"dumpsite-dispatch/internal/models"
	"dumpsite-dispatch/internal/ratelimit"
	"dumpsite-dispatch/internal/telemetry"
)

var (
	ErrInvalidSubmission = errors.New("invalid submission")
	ErrRateLimited       = errors.New("too many submissions")
)

// Submission is one report as received from a reporter.
type Submission struct {
	ReporterName    string
	ReporterContact string
	Location        models.Location
	Description     string
	Zone            string
	Image           []byte
	Filename        string
}

type Service struct {
	jobs       *ledger.Ledger
	classifier classifier.Classifier
	uploader   blob.Uploader
	limiter    ratelimit.Limiter
	zones      []string
	thumbWidth int
}

type Option func(*Service)

// WithLimiter throttles submissions per reporter contact (or name when no contact is given).
func WithLimiter(l ratelimit.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithZones restricts submissions to the named zones.
func WithZones(zones []string) Option {
	return func(s *Service) { s.zones = zones }
}

// WithThumbnailWidth sets the stored thumbnail width in pixels.
func WithThumbnailWidth(w int) Option {
	return func(s *Service) { s.thumbWidth = w }
}

func NewService(jobs *ledger.Ledger, c classifier.Classifier, up blob.Uploader, opts ...Option) *Service {
	s := &Service{jobs: jobs, classifier: c, uploader: up, thumbWidth: 300}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates and classifies the submission, stores the evidence and creates a pending job.
// An unclassifiable image yields classifier.ErrUnreadableImage and no job.
func (s *Service) Submit(ctx context.Context, sub Submission) (models.Job, error) {
	ctx, span := telemetry.StartSpan(ctx, "report.submit", attribute.String("report.zone", sub.Zone))
	defer span.End()

	if err := s.validate(sub); err != nil {
		return models.Job{}, err
	}
	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, reporterKey(sub))
		if err != nil {
			return models.Job{}, err
		}
		if !ok {
			telemetry.RateLimitRejects.Inc()
			return models.Job{}, ErrRateLimited
		}
	}

	result, err := s.classifier.Classify(ctx, sub.Image)
	if err != nil {
		telemetry.ClassifierFailures.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "classification failed")
		return models.Job{}, fmt.Errorf("classify report image: %w", err)
	}
	span.SetAttributes(attribute.String("report.severity", string(result.Severity)))

	imageRef, thumbRef, err := s.storeEvidence(ctx, sub)
	if err != nil {
		span.RecordError(err)
		return models.Job{}, err
	}

	job, err := s.jobs.Create(ctx, ledger.NewJob{
		ReporterName:    strings.TrimSpace(sub.ReporterName),
		ReporterContact: strings.TrimSpace(sub.ReporterContact),
		Location:        sub.Location,
		Description:     strings.TrimSpace(sub.Description),
		ImageRef:        imageRef,
		ThumbnailRef:    thumbRef,
		Zone:            sub.Zone,
		Severity:        result.Severity,
		Vehicle:         result.Vehicle,
		Confidence:      result.Confidence,
	})
	if err != nil {
		return models.Job{}, err
	}
	telemetry.ReportsSubmitted.Inc()
	return job, nil
}

func (s *Service) validate(sub Submission) error {
	var problems []string
	if strings.TrimSpace(sub.ReporterName) == "" {
		problems = append(problems, "reporter name is required")
	}
	if strings.TrimSpace(sub.Zone) == "" {
		problems = append(problems, "zone is required")
	} else if len(s.zones) > 0 && !slices.Contains(s.zones, sub.Zone) {
		problems = append(problems, fmt.Sprintf("unknown zone %q", sub.Zone))
	}
	if sub.Location.Lat < -90 || sub.Location.Lat > 90 || sub.Location.Lng < -180 || sub.Location.Lng > 180 {
		problems = append(problems, "location is out of range")
	}
	if len(sub.Image) == 0 {
		problems = append(problems, "image is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSubmission, strings.Join(problems, "; "))
	}
	return nil
}

func (s *Service) storeEvidence(ctx context.Context, sub Submission) (string, string, error) {
	dir := "reports/" + uuid.New().String()
	contentType := http.DetectContentType(sub.Image)
	ext := strings.ToLower(path.Ext(sub.Filename))
	if ext == "" {
		ext = extensionFor(contentType)
	}

	imageRef, err := s.uploader.Upload(ctx, dir+"/original"+ext, sub.Image, contentType)
	if err != nil {
		return "", "", fmt.Errorf("store report image: %w", err)
	}
	thumb, err := thumbnail(sub.Image, s.thumbWidth)
	if err != nil {
		return "", "", fmt.Errorf("build thumbnail: %w", err)
	}
	thumbRef, err := s.uploader.Upload(ctx, dir+"/thumb.jpg", thumb, "image/jpeg")
	if err != nil {
		return "", "", fmt.Errorf("store thumbnail: %w", err)
	}
	return imageRef, thumbRef, nil
}

func reporterKey(sub Submission) string {
	if c := strings.ToLower(strings.TrimSpace(sub.ReporterContact)); c != "" {
		return c
	}
	return strings.ToLower(strings.TrimSpace(sub.ReporterName))
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}
