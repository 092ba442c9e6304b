package proctoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const predictPath = "/deepfake/predict"

// FrameMeta identifies whose frame is being checked.
type FrameMeta struct {
	UserID        uuid.UUID
	MeetingID     uuid.UUID
	ParticipantID uuid.UUID
	Filename      string
}

// Verdict is the detector's answer for one frame.
type Verdict struct {
	IsDeepfake bool    `json:"is_deepfake"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// Detector classifies a single image frame.
type Detector interface {
	Predict(ctx context.Context, image []byte, meta FrameMeta) (*Verdict, error)
}

// HTTPDetector calls the deepfake detection service over HTTP.
type HTTPDetector struct {
	baseURL string
	client  *http.Client
}

// NewHTTPDetector creates a detector client for baseURL (e.g. http://localhost:8000).
func NewHTTPDetector(baseURL string, timeout time.Duration) *HTTPDetector {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDetector{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Predict uploads the frame as multipart form data and decodes the verdict.
func (d *HTTPDetector) Predict(ctx context.Context, image []byte, meta FrameMeta) (*Verdict, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	filename := meta.Filename
	if filename == "" {
		filename = "frame.jpg"
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(image); err != nil {
		return nil, err
	}
	fields := map[string]string{
		"userId":        meta.UserID.String(),
		"meetingId":     meta.MeetingID.String(),
		"participantId": meta.ParticipantID.String(),
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+predictPath, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detector returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var v Verdict
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}
	if v.Error != "" {
		return nil, fmt.Errorf("detector error: %s", v.Error)
	}
	return &v, nil
}
