package validation

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

var (
	ErrDisallowedFileType = errors.New("file type not allowed")
	ErrSourceMissing      = errors.New("video source does not exist")
)

// allowedMIMETypes lists the containers the detection pipeline accepts.
var allowedMIMETypes = map[string]bool{
	"video/mp4":        true,
	"video/webm":       true,
	"video/quicktime":  true,
	"video/x-msvideo":  true,
	"video/x-matroska": true,
	"video/mpeg":       true,
}

const magicBytesBufferSize = 512

// ValidateMagicBytes sniffs the first bytes of reader and reports the MIME
// type and whether it is an accepted video container. The reader is rewound.
func ValidateMagicBytes(reader io.ReadSeeker) (mime string, allowed bool, err error) {
	buf := make([]byte, magicBytesBufferSize)
	n, err := reader.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", false, err
	}

	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return "", false, err
	}

	if n == 0 {
		return "application/octet-stream", false, nil
	}
	buf = buf[:n]

	mime = detectCustomMagicBytes(buf)
	if mime == "" {
		mime = http.DetectContentType(buf)
	}

	return mime, allowedMIMETypes[mime], nil
}

// detectCustomMagicBytes handles containers http.DetectContentType does not
// recognize.
func detectCustomMagicBytes(buf []byte) string {
	if len(buf) < 4 {
		return ""
	}

	// EBML header (0x1A 0x45 0xDF 0xA3)
	if buf[0] == 0x1A && buf[1] == 0x45 && buf[2] == 0xDF && buf[3] == 0xA3 {
		if strings.Contains(string(buf), "matroska") {
			return "video/x-matroska"
		}
		return "video/webm"
	}

	// AVI: RIFF....AVI
	if len(buf) >= 12 && string(buf[0:4]) == "RIFF" && string(buf[8:11]) == "AVI" {
		return "video/x-msvideo"
	}

	// ftyp box at offset 4
	if len(buf) >= 12 && string(buf[4:8]) == "ftyp" {
		if string(buf[8:12]) == "qt  " {
			return "video/quicktime"
		}
		return "video/mp4"
	}

	return ""
}

// IsRemote reports whether the video reference is an http(s) URL rather than
// a local path.
func IsRemote(videoURL string) bool {
	return strings.HasPrefix(videoURL, "http://") || strings.HasPrefix(videoURL, "https://")
}

// ValidateVideoSource checks that a local video reference exists, is a
// regular file and looks like a video. Remote URLs are accepted unchecked;
// the pipeline reports download failures.
func ValidateVideoSource(videoURL string) error {
	if IsRemote(videoURL) {
		return nil
	}

	path := videoURL
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSourceMissing, path)
		}
		return fmt.Errorf("open video source: %w", err)
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat video source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrSourceMissing, path)
	}

	mime, allowed, err := ValidateMagicBytes(f)
	if err != nil {
		return fmt.Errorf("read video source: %w", err)
	}
	if !allowed {
		return fmt.Errorf("%w: %s", ErrDisallowedFileType, mime)
	}
	return nil
}
