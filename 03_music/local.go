package music

import (
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Auto asks Pick to choose a track by mood.
const Auto = "auto"

var moodFiles = map[string]string{
	"uplifting":    "uplifting",
	"calm":         "calm",
	"energetic":    "uplifting",
	"motivational": "motivational",
	"meditation":   "meditation",
	"focus":        "neutral",
	"default":      "neutral",
}

var audioExts = map[string]bool{".mp3": true, ".m4a": true, ".ogg": true, ".wav": true}

// Tracks lists audio files in dir, sorted by name. A missing dir is empty.
func Tracks(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "list music")
	}
	var tracks []string
	for _, e := range entries {
		if e.IsDir() || !audioExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		tracks = append(tracks, filepath.Join(dir, e.Name()))
	}
	sort.Strings(tracks)
	return tracks, nil
}

// Pick returns the track named after the mood (calm.mp3 for "calm"), any
// track when none matches, or "" when dir has no audio.
func Pick(dir, mood string, rng *rand.Rand) (string, error) {
	tracks, err := Tracks(dir)
	if err != nil || len(tracks) == 0 {
		return "", err
	}
	preferred, ok := moodFiles[strings.ToLower(mood)]
	if !ok {
		preferred = "neutral"
	}
	for _, t := range tracks {
		stem := strings.TrimSuffix(filepath.Base(t), filepath.Ext(t))
		if strings.EqualFold(stem, preferred) {
			return t, nil
		}
	}
	if rng == nil {
		return tracks[rand.Intn(len(tracks))], nil
	}
	return tracks[rng.Intn(len(tracks))], nil
}

// Resolve turns the CLI music flag into a file path: "" means no music,
// "auto" picks from dir, anything else must be an existing file.
func Resolve(ref, dir, mood string) (string, error) {
	switch ref {
	case "":
		return "", nil
	case Auto:
		return Pick(dir, mood, nil)
	}
	if _, err := os.Stat(ref); err != nil {
		return "", errors.Wrapf(err, "music file %s", ref)
	}
	return ref, nil
}
