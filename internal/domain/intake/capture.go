package intake

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/mediscan/mediscan/internal/platform/blobstore"
	"github.com/mediscan/mediscan/internal/platform/events"
)

var ErrInvalidImage = errors.New("invalid image")

// PlaceholderJPEG is the 1x1 image stored when the camera capture is
// simulated.
const PlaceholderJPEG = "data:image/jpeg;base64,/9j/4AAQSkZJRgABAQAAAQABAAD/2wBDAAYEBQYFBAYGBQYHBwYIChAKCgkJChQODwwQFxQYGBcUFhYaHSUfGhsjHBYWICwgIyYnKSopGR8tMC0oMCUoKSj/2wBDAQcHBwoIChMKChMoGhYaKCgoKCgoKCgoKCgoKCgoKCgoKCgoKCgoKCgoKCgoKCgoKCgoKCgoKCgoKCgoKCgoKCj/wAARCAABAAEDASIAAhEBAxEB/8QAFQABAQAAAAAAAAAAAAAAAAAAAAv/xAAUEAEAAAAAAAAAAAAAAAAAAAAA/8QAFQEBAQAAAAAAAAAAAAAAAAAAAAX/xAAUEQEAAAAAAAAAAAAAAAAAAAAA/9oADAMBAAIRAxEAPwCdABmX/9k="

const placeholderPrefix = "data:image/jpeg;base64,"

func placeholderImage() []byte {
	data, _ := base64.StdEncoding.DecodeString(PlaceholderJPEG[len(placeholderPrefix):])
	return data
}

// DataURL encodes an image for inline display.
func DataURL(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Capture stores the simulated camera image.
func (s *Service) Capture(ctx context.Context, id string) (*Session, string, error) {
	return s.storeImage(ctx, id, SourceCamera, "camera-capture.jpg", "image/jpeg", bytes.NewReader(placeholderImage()))
}

// Upload stores an image file chosen by the operator.
func (s *Service) Upload(ctx context.Context, id, fileName, contentType string, content io.Reader) (*Session, string, error) {
	return s.storeImage(ctx, id, SourceUpload, fileName, contentType, content)
}

func (s *Service) storeImage(ctx context.Context, id, source, fileName, contentType string, content io.Reader) (*Session, string, error) {
	sess, err := s.sessions.get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if err := requireStage(sess, source, StageCapture, StageCaptured); err != nil {
		return nil, "", err
	}

	data, err := io.ReadAll(io.LimitReader(content, blobstore.MaxFileSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read failed: %v", ErrInvalidImage, err)
	}
	meta, err := s.blobs.Upload(ctx, blobstore.BlobMetadata{
		FileName:    fileName,
		ContentType: contentType,
		SessionID:   id,
		Source:      source,
		CreatedBy:   sess.Operator,
	}, bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, blobstore.ErrFileTooLarge) ||
			errors.Is(err, blobstore.ErrInvalidContentType) ||
			errors.Is(err, blobstore.ErrMissingFileName) {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
		return nil, "", fmt.Errorf("store image: %w", err)
	}

	var replaced *Image
	sess, err = s.sessions.update(ctx, id, func(sess *Session) error {
		if err := requireStage(sess, source, StageCapture, StageCaptured); err != nil {
			return err
		}
		replaced = sess.Image
		sess.clearScan()
		sess.Image = &Image{
			BlobID:      meta.ID,
			FileName:    meta.FileName,
			ContentType: meta.ContentType,
			Size:        meta.Size,
			Source:      source,
		}
		sess.Stage = StageCaptured
		return nil
	})
	if err != nil {
		s.dropImage(ctx, meta.ID)
		return nil, "", err
	}
	if replaced != nil {
		s.dropImage(ctx, replaced.BlobID)
	}

	e := events.New(events.TypeImageCaptured, id, map[string]string{"source": source, "blob_id": meta.ID})
	e.Actor = sess.Operator
	s.publish(ctx, e)
	return sess, DataURL(meta.ContentType, data), nil
}

// Retake discards the captured image, cancelling any extraction of it.
func (s *Service) Retake(ctx context.Context, id string) (*Session, error) {
	return s.resetScan(ctx, id, "retake", StageCaptured, StageProcessing)
}

// Retry discards the image and the extracted draft and returns to capture.
func (s *Service) Retry(ctx context.Context, id string) (*Session, error) {
	return s.resetScan(ctx, id, "retry", StageCaptured, StageProcessing, StageReview, StageVerification)
}

func (s *Service) resetScan(ctx context.Context, id, action string, allowed ...Stage) (*Session, error) {
	s.runner.Cancel(id)

	var dropped *Image
	sess, err := s.sessions.update(ctx, id, func(sess *Session) error {
		if err := requireStage(sess, action, allowed...); err != nil {
			return err
		}
		dropped = sess.Image
		sess.clearScan()
		sess.Stage = StageCapture
		return nil
	})
	if err != nil {
		return nil, err
	}
	if dropped != nil {
		s.dropImage(ctx, dropped.BlobID)
	}
	s.logger.Debug().Str("session_id", id).Str("action", action).Msg("scan reset")
	return sess, nil
}
