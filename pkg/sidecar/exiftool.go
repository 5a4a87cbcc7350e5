// Package sidecar writes and reads XMP sidecar metadata by shelling out to
// exiftool. The sidecar format itself stays exiftool's concern; this wrapper
// only assembles arguments and parses the JSON output.
package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	"booru-tagger/pkg/utils"
)

// ExifTool is the sidecar-writer collaborator backed by the exiftool binary.
type ExifTool struct {
	binary string
	log    *logrus.Entry
}

// New locates exiftool on PATH. A missing binary is a construction-time
// failure: the component cannot be used at all without it.
func New(log *logrus.Entry) (*ExifTool, error) {
	binary, err := exec.LookPath("exiftool")
	if err != nil {
		return nil, fmt.Errorf("exiftool not found in PATH: %w", err)
	}
	log.Debugf("Using exiftool at %s", binary)
	return &ExifTool{binary: binary, log: log}, nil
}

// WriteSidecar writes an XMP sidecar next to the image, replacing any
// existing one. Rating 0 is treated as unset.
func (e *ExifTool) WriteSidecar(ctx context.Context, imagePath string, tagList []string, description string, rating int, sourceURL string) error {
	sidecarPath := imagePath + ".xmp"

	// exiftool's -o refuses to overwrite, so clear the old sidecar first
	if err := os.Remove(sidecarPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing old sidecar: %w", utils.ErrSidecarWrite, err)
	}

	args := []string{"-o", sidecarPath}
	for _, tag := range tagList {
		args = append(args, "-XMP-dc:Subject+="+tag)
	}
	if description != "" {
		args = append(args, "-XMP-dc:Description="+description)
	}
	if rating >= 1 && rating <= 5 {
		args = append(args, fmt.Sprintf("-XMP:Rating=%d", rating))
	}
	if sourceURL != "" {
		args = append(args, "-XMP-dc:Source="+sourceURL)
	}
	args = append(args, imagePath)

	cmd := exec.CommandContext(ctx, e.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: exiftool: %v: %s", utils.ErrSidecarWrite, err,
			strings.TrimSpace(stderr.String()))
	}

	e.log.Debugf("Wrote sidecar %s (%d tags)", sidecarPath, len(tagList))
	return nil
}

// ReadTags returns the subject tags recorded in an image's sidecar, or nil
// when no sidecar exists.
func (e *ExifTool) ReadTags(ctx context.Context, imagePath string) ([]string, error) {
	sidecarPath := imagePath + ".xmp"
	if _, err := os.Stat(sidecarPath); os.IsNotExist(err) {
		return nil, nil
	}

	cmd := exec.CommandContext(ctx, e.binary, "-j", "-XMP-dc:Subject", sidecarPath)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("exiftool read: %w", err)
	}

	// exiftool -j emits one object per file; Subject may be a single string
	// or an array depending on tag count
	var parsed []struct {
		Subject json.RawMessage `json:"Subject"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("%w: JSON: %w", utils.ErrParsing, err)
	}
	if len(parsed) == 0 || parsed[0].Subject == nil {
		return nil, nil
	}

	var many []string
	if err := json.Unmarshal(parsed[0].Subject, &many); err == nil {
		return many, nil
	}
	var one string
	if err := json.Unmarshal(parsed[0].Subject, &one); err == nil {
		return []string{one}, nil
	}
	return nil, fmt.Errorf("%w: unexpected Subject shape", utils.ErrParsing)
}
