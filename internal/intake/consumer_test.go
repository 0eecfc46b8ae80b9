package intake

import (
	"context"
	"errors"
	"fmt"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"vasset/fetch-service/internal/models"
	"vasset/fetch-service/internal/utils"
)

type fakeAck struct {
	acked    bool
	nacked   bool
	requeued bool
}

func (a *fakeAck) Ack(uint64, bool) error {
	a.acked = true
	return nil
}

func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked = true
	a.requeued = requeue
	return nil
}

func (a *fakeAck) Reject(_ uint64, requeue bool) error {
	a.nacked = true
	a.requeued = requeue
	return nil
}

type fakeSubmitter struct {
	err error
	got *models.DownloadRequest
}

func (s *fakeSubmitter) Submit(_ context.Context, req *models.DownloadRequest) (*models.Job, error) {
	s.got = req
	if s.err != nil {
		return nil, s.err
	}
	return &models.Job{TaskID: "t1", URL: req.URL}, nil
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		submitErr   error
		wantAck     bool
		wantRequeue bool
	}{
		{"accepted", `{"url":"https://example.com/v","format":"HD"}`, nil, true, false},
		{"malformed body", `{`, nil, false, false},
		{"quality unavailable", `{"url":"https://example.com/v","format":"4K"}`, utils.ErrQualityUnavailable, false, false},
		{"extraction failed", `{"url":"https://example.com/v","format":"HD"}`, utils.ErrExtractionFailed, false, false},
		{"extraction timeout", `{"url":"https://example.com/v","format":"HD"}`, fmt.Errorf("%w: %w", utils.ErrExtractionFailed, utils.ErrTimeout), false, true},
		{"extraction cancelled", `{"url":"https://example.com/v","format":"HD"}`, fmt.Errorf("%w: %w", utils.ErrExtractionFailed, context.DeadlineExceeded), false, true},
		{"store unavailable", `{"url":"https://example.com/v","format":"HD"}`, errors.New("connection refused"), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &fakeAck{}
			sub := &fakeSubmitter{err: tt.submitErr}

			handle(context.Background(), sub, amqp.Delivery{Acknowledger: ack, Body: []byte(tt.body)}, zap.NewNop())

			if ack.acked != tt.wantAck {
				t.Errorf("acked = %v, want %v", ack.acked, tt.wantAck)
			}
			if !tt.wantAck && !ack.nacked {
				t.Error("expected nack")
			}
			if ack.requeued != tt.wantRequeue {
				t.Errorf("requeue = %v, want %v", ack.requeued, tt.wantRequeue)
			}
		})
	}
}

func TestHandlePassesRequest(t *testing.T) {
	sub := &fakeSubmitter{}
	body := `{"url":"https://example.com/v","audio_only":true,"audio_format_id":"140","convert_to_mp3":true}`

	handle(context.Background(), sub, amqp.Delivery{Acknowledger: &fakeAck{}, Body: []byte(body)}, zap.NewNop())

	if sub.got == nil || !sub.got.AudioOnly || sub.got.AudioFormatID != "140" || !sub.got.ConvertToMP3 {
		t.Errorf("request = %+v", sub.got)
	}
}
