// Package media turns a session's raw recordings into a single optimized
// artifact by shelling out to ffmpeg.
package media

import "strings"

// Quality is the export quality preset for media processing
type Quality int

const (
	// QualityLow favors small files over fidelity
	QualityLow Quality = iota
	// QualityMedium balances size and fidelity (default)
	QualityMedium
	// QualityHigh favors fidelity over size
	QualityHigh
)

// DefaultQuality is used when no preset is configured
const DefaultQuality = QualityMedium

// ParseQuality maps a config string to a preset. Unknown strings report ok=false.
func ParseQuality(s string) (Quality, bool) {
	switch strings.ToLower(s) {
	case "low":
		return QualityLow, true
	case "medium":
		return QualityMedium, true
	case "high":
		return QualityHigh, true
	default:
		return DefaultQuality, false
	}
}

// String returns the config-file name of the preset
func (q Quality) String() string {
	switch q {
	case QualityLow:
		return "low"
	case QualityMedium:
		return "medium"
	case QualityHigh:
		return "high"
	default:
		return "medium"
	}
}

// CRF returns the x264 constant rate factor for the preset.
// Lower is higher fidelity.
func (q Quality) CRF() string {
	switch q {
	case QualityLow:
		return "30"
	case QualityHigh:
		return "20"
	default:
		return "25"
	}
}

// Preset returns the x264 encoder speed preset
func (q Quality) Preset() string {
	switch q {
	case QualityLow:
		return "faster"
	case QualityHigh:
		return "slow"
	default:
		return "medium"
	}
}

// AudioBitrate returns the AAC bitrate for the preset
func (q Quality) AudioBitrate() string {
	switch q {
	case QualityLow:
		return "96k"
	case QualityHigh:
		return "192k"
	default:
		return "128k"
	}
}
