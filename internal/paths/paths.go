// Package paths derives every storage location the ingestion pipeline touches
// from the location of the raw video. Derivation is pure string manipulation so
// re-runs always land on the same artifacts.
package paths

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrInvalidReference is returned for refs that are not <scheme>://<bucket>/<key>.
var ErrInvalidReference = errors.New("invalid storage reference")

// SupportedFormats is the video extension allow-list. Order matters: the first
// matching entry is stripped.
var SupportedFormats = []string{".mp4", ".mov", ".avi", ".mkv", ".webm", ".m4v", ".flv"}

// Schemes accepted by ParseRef.
var Schemes = []string{"gs", "s3"}

const (
	RawDir        = "raw/"
	AudioDir      = "audio/"
	TranscriptDir = "processed_json/"
	ScratchDir    = "tmp/transcription/"

	AudioExt      = ".wav"
	TranscriptExt = ".json"
)

// Ref is a parsed blob location.
type Ref struct {
	Scheme string
	Bucket string
	Key    string
}

func (r Ref) String() string {
	return r.Scheme + "://" + r.Bucket + "/" + r.Key
}

// Child returns a ref for key under the same bucket.
func (r Ref) Child(key string) Ref {
	return Ref{Scheme: r.Scheme, Bucket: r.Bucket, Key: key}
}

// ParseRef splits a blob reference into scheme, bucket and key. A non-empty
// key is required; use ParseBucket for bucket roots.
func ParseRef(ref string) (Ref, error) {
	r, err := parse(ref)
	if err != nil {
		return Ref{}, err
	}
	if r.Key == "" {
		return Ref{}, fmt.Errorf("%w: %q has no path after the bucket", ErrInvalidReference, ref)
	}
	return r, nil
}

// ParseBucket parses a bucket-level ref such as "gs://bucket" or "gs://bucket/prefix/".
func ParseBucket(ref string) (Ref, error) {
	return parse(ref)
}

func parse(ref string) (Ref, error) {
	scheme, rest, ok := strings.Cut(ref, "://")
	if !ok || !knownScheme(scheme) {
		return Ref{}, fmt.Errorf("%w: %q must start with one of %s", ErrInvalidReference, ref, schemeList())
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Ref{}, fmt.Errorf("%w: %q has no bucket", ErrInvalidReference, ref)
	}
	return Ref{Scheme: scheme, Bucket: bucket, Key: key}, nil
}

func knownScheme(s string) bool {
	for _, k := range Schemes {
		if s == k {
			return true
		}
	}
	return false
}

func schemeList() string {
	parts := make([]string, len(Schemes))
	for i, s := range Schemes {
		parts[i] = s + "://"
	}
	return strings.Join(parts, ", ")
}

// Derived holds every location computed from one video ref.
type Derived struct {
	Video      Ref
	Audio      Ref
	Transcript Ref
	BaseName   string // video file name without its extension
}

// VideoRef, AudioRef and TranscriptRef return the string forms.
func (d Derived) VideoRef() string      { return d.Video.String() }
func (d Derived) AudioRef() string      { return d.Audio.String() }
func (d Derived) TranscriptRef() string { return d.Transcript.String() }

// ScratchRef is the directory where the recognizer writes externalized results.
func (d Derived) ScratchRef() Ref {
	return d.Video.Child(ScratchDir + d.BaseName + "/")
}

// TranscriptBase is the transcript object name without directory or extension;
// the batch driver compares it against the processed listing.
func (d Derived) TranscriptBase() string {
	return strings.TrimSuffix(path.Base(d.Transcript.Key), TranscriptExt)
}

// Derive computes the audio and transcript locations for a video ref.
func Derive(videoRef string) (Derived, error) {
	video, err := ParseRef(videoRef)
	if err != nil {
		return Derived{}, err
	}

	base := StripFormat(path.Base(video.Key))

	audioKey := strings.Replace(video.Key, RawDir, AudioDir, 1)
	if ext := matchFormat(audioKey); ext != "" {
		audioKey = audioKey[:len(audioKey)-len(ext)] + AudioExt
	}

	return Derived{
		Video:      video,
		Audio:      video.Child(audioKey),
		Transcript: video.Child(TranscriptDir + SanitizeName(base) + TranscriptExt),
		BaseName:   base,
	}, nil
}

// StripFormat removes the first supported extension (case-insensitive) from name.
func StripFormat(name string) string {
	if ext := matchFormat(name); ext != "" {
		return name[:len(name)-len(ext)]
	}
	return name
}

// IsSupported reports whether name ends in a supported video extension.
func IsSupported(name string) bool {
	return matchFormat(name) != ""
}

func matchFormat(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range SupportedFormats {
		if strings.HasSuffix(lower, ext) {
			return ext
		}
	}
	return ""
}

// SanitizeName replaces spaces and hyphens with underscores.
func SanitizeName(name string) string {
	return strings.NewReplacer(" ", "_", "-", "_").Replace(name)
}
