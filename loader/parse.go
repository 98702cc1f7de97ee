package loader

import (
	"regexp"
	"strconv"
	"strings"

	"go.tigermatt.uk/flashops"
)

// Both the v4 ("Chip is X") and v5 ("Chip type: X") spellings are accepted.
var (
	chipRe     = regexp.MustCompile(`^Chip (?:is|type:)\s*(.+?)(?:\s*\(revision (v?[0-9.]+)\))?$`)
	featuresRe = regexp.MustCompile(`^Features:\s*(.+)$`)
	crystalRe  = regexp.MustCompile(`^Crystal (?:is|frequency:)\s*(\S+)`)
	macRe      = regexp.MustCompile(`^MAC:\s*((?:[0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2})`)
	flashRe    = regexp.MustCompile(`^Detected flash size:\s*(\d+)\s*([KM]B)`)
	progressRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
)

func parseChipInfo(out string) (*flashops.ChipInfo, bool) {
	var info flashops.ChipInfo

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)

		if m := chipRe.FindStringSubmatch(line); m != nil {
			info.Name = m[1]
			info.Revision = m[2]
			continue
		}
		if m := featuresRe.FindStringSubmatch(line); m != nil {
			for _, f := range strings.Split(m[1], ",") {
				if f = strings.TrimSpace(f); f != "" {
					info.Features = append(info.Features, f)
				}
			}
			continue
		}
		if m := crystalRe.FindStringSubmatch(line); m != nil {
			info.CrystalFreq = m[1]
			continue
		}
		if m := macRe.FindStringSubmatch(line); m != nil {
			info.MAC = strings.ToUpper(m[1])
			continue
		}
		if m := flashRe.FindStringSubmatch(line); m != nil {
			n, _ := strconv.ParseInt(m[1], 10, 64)
			if m[2] == "MB" {
				info.FlashSize = n << 20
			} else {
				info.FlashSize = n << 10
			}
		}
	}

	return &info, info.Name != ""
}

// parseProgress extracts the percentage from a "Writing at 0x..." line.
func parseProgress(line string) (float64, bool) {
	if !strings.HasPrefix(line, "Writing at") {
		return 0, false
	}
	m := progressRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return pct, true
}
