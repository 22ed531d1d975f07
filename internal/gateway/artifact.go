package gateway

import (
	"encoding/base64"
	"errors"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

// PairingArtifact is the scannable token the gateway issues while a session is
// being linked. It is short-lived and never persisted.
type PairingArtifact struct {
	// Image is a PNG rendered by the gateway, when it sent one.
	Image []byte
	// Code is the raw QR payload.
	Code string
	// PairingCode is the phone-number linking code some gateways add.
	PairingCode string
	IssuedAt    time.Time
}

// Empty reports whether the artifact holds no usable representation.
func (a *PairingArtifact) Empty() bool {
	return a == nil || (len(a.Image) == 0 && a.Code == "")
}

// PNG returns the image form, preferring the gateway's own image and falling
// back to rendering Code locally.
func (a *PairingArtifact) PNG(size int) ([]byte, error) {
	if a.Empty() {
		return nil, errors.New("empty pairing artifact")
	}
	if len(a.Image) > 0 {
		return a.Image, nil
	}
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(a.Code, qrcode.Medium, size)
}

// DataURI returns the PNG form as a data URI suitable for an <img> tag.
func (a *PairingArtifact) DataURI() (string, error) {
	png, err := a.PNG(0)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// Terminal renders Code as a block-character QR code for a terminal.
func (a *PairingArtifact) Terminal() (string, error) {
	if a == nil || a.Code == "" {
		return "", errors.New("pairing artifact has no textual code")
	}
	q, err := qrcode.New(a.Code, qrcode.Low)
	if err != nil {
		return "", err
	}
	return q.ToSmallString(false), nil
}

// Expired reports whether the artifact is older than ttl. A non-positive ttl never expires.
func (a *PairingArtifact) Expired(now time.Time, ttl time.Duration) bool {
	if a == nil || ttl <= 0 {
		return false
	}
	return now.Sub(a.IssuedAt) > ttl
}
