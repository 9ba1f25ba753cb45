// Package vision implements the image-analysis fallback: when product
// metadata is inconclusive, a captured frame or stock photo is sent to the
// Google Cloud Vision API and matched against a bottle vocabulary.
package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	visionapi "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// ErrUnavailable is returned when the vision service cannot be reached or
// answers with an error. The orchestrator fails closed on it.
var ErrUnavailable = errors.New("image analysis unavailable")

// DefaultConfidenceThreshold is the minimum score for a label or object to
// count as a match.
const DefaultConfidenceThreshold = 0.70

// Label detection casts a wider net than object localization: labels describe
// the whole scene, objects are localized instances.
var (
	matchLabels = []string{
		"bottle", "plastic bottle", "pet bottle",
		"water bottle", "soda bottle", "container", "recycling",
	}
	matchObjects = []string{
		"bottle", "plastic bottle", "water bottle", "soda bottle",
	}
)

// Detection is the outcome of analyzing one image.
type Detection struct {
	IsMatch    bool
	Confidence float64
	// Evidence names the label or object that produced the match.
	Evidence string
}

// Detector sends images to an external analysis service and decides whether
// they show a plastic bottle.
type Detector interface {
	Detect(ctx context.Context, imageBytes []byte) (*Detection, error)
}

// Disabled is a Detector for deployments without image analysis. It always
// reports unavailability, so inconclusive scans resolve to rejection.
type Disabled struct{}

// Detect implements Detector.
func (Disabled) Detect(ctx context.Context, imageBytes []byte) (*Detection, error) {
	return nil, ErrUnavailable
}

// GoogleDetector is a Detector backed by the Cloud Vision API.
type GoogleDetector struct {
	client    *visionapi.ImageAnnotatorClient
	threshold float64
	logger    *zap.Logger
}

// NewGoogleDetector creates a Cloud Vision backed detector. credentialsFile
// may be empty, in which case application default credentials apply.
func NewGoogleDetector(ctx context.Context, credentialsFile string, threshold float64, logger *zap.Logger) (*GoogleDetector, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := visionapi.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultConfidenceThreshold
	}
	return &GoogleDetector{
		client:    client,
		threshold: threshold,
		logger:    logger.Named("vision_detector"),
	}, nil
}

// Close releases the underlying API client.
func (d *GoogleDetector) Close() error {
	return d.client.Close()
}

// Detect runs label detection and object localization over the image and
// applies the bottle-vocabulary decision rule.
func (d *GoogleDetector) Detect(ctx context.Context, imageBytes []byte) (*Detection, error) {
	if len(imageBytes) == 0 {
		return &Detection{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: imageBytes},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_LABEL_DETECTION, MaxResults: 20},
					{Type: visionpb.Feature_OBJECT_LOCALIZATION, MaxResults: 10},
				},
			},
		},
	}

	resp, err := d.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		d.logger.Error("vision annotate call failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return nil, fmt.Errorf("%w: empty annotate response", ErrUnavailable)
	}
	r0 := resp.Responses[0]
	if r0.Error != nil && r0.Error.Message != "" {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, r0.Error.Message)
	}

	labels := make([]Annotation, 0, len(r0.LabelAnnotations))
	for _, label := range r0.LabelAnnotations {
		if label == nil {
			continue
		}
		labels = append(labels, Annotation{Name: label.Description, Score: float64(label.Score)})
	}
	objects := make([]Annotation, 0, len(r0.LocalizedObjectAnnotations))
	for _, obj := range r0.LocalizedObjectAnnotations {
		if obj == nil {
			continue
		}
		objects = append(objects, Annotation{Name: obj.Name, Score: float64(obj.Score)})
	}

	detection := Evaluate(labels, objects, d.threshold)
	d.logger.Info("image analyzed",
		zap.Bool("is_match", detection.IsMatch),
		zap.Float64("confidence", detection.Confidence),
		zap.String("evidence", detection.Evidence))
	return detection, nil
}

// Annotation is a provider-neutral label or object result.
type Annotation struct {
	Name  string
	Score float64
}

// Evaluate applies the decision rule to annotation results: a label from the
// label vocabulary above the threshold matches; object localization is only
// consulted when no label already matched.
func Evaluate(labels, objects []Annotation, threshold float64) *Detection {
	if match := bestMatch(labels, matchLabels, threshold); match != nil {
		return match
	}
	if match := bestMatch(objects, matchObjects, threshold); match != nil {
		return match
	}

	// Report the strongest rejected candidate's score for logging.
	var top float64
	for _, a := range append(labels, objects...) {
		if a.Score > top {
			top = a.Score
		}
	}
	return &Detection{IsMatch: false, Confidence: top}
}

func bestMatch(annotations []Annotation, vocabulary []string, threshold float64) *Detection {
	var best *Detection
	for _, a := range annotations {
		if a.Score < threshold {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(a.Name))
		for _, term := range vocabulary {
			if name == term {
				if best == nil || a.Score > best.Confidence {
					best = &Detection{IsMatch: true, Confidence: a.Score, Evidence: name}
				}
			}
		}
	}
	return best
}
