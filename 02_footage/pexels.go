package footage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"reels-pipeline/artifact"
	"reels-pipeline/config"
	"reels-pipeline/logging"
	"reels-pipeline/types"
)

const pexelsSearchURL = "https://api.pexels.com/videos/search"

// VideoFile is one rendition of a Pexels video.
type VideoFile struct {
	ID       int    `json:"id"`
	Quality  string `json:"quality"`
	FileType string `json:"file_type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Link     string `json:"link"`
}

// Video is one Pexels search hit.
type Video struct {
	ID         int         `json:"id"`
	Duration   float64     `json:"duration"`
	URL        string      `json:"url"`
	VideoFiles []VideoFile `json:"video_files"`
}

// SearchResponse is the subset of the Pexels search payload we use.
type SearchResponse struct {
	TotalResults int     `json:"total_results"`
	Videos       []Video `json:"videos"`
}

// Scout finds and downloads stock footage for script segments
type Scout struct {
	cfg        *config.Config
	apiKey     string
	searchURL  string
	httpClient *http.Client
	// downloadClient bounds the wait for response headers only, so large
	// clips are not cut off mid-body.
	downloadClient *http.Client
	limiter        *rate.Limiter
	retryWait      time.Duration
}

// downloadHeaderTimeout caps how long a clip server may take to start answering.
const downloadHeaderTimeout = 60 * time.Second

// statusError is a non-200 answer from the clip server.
type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("HTTP %d", e.code) }

// permanent reports whether retrying the same request cannot help.
func permanent(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code >= 400 && se.code < 500 && se.code != http.StatusTooManyRequests
}

// New creates a Scout. searchURL may be empty to use the public API.
func New(cfg *config.Config, apiKey, searchURL string) *Scout {
	if searchURL == "" {
		searchURL = pexelsSearchURL
	}
	perHour := cfg.Footage.RequestsPerHour
	limiter := rate.NewLimiter(rate.Inf, 1)
	if perHour > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Hour/time.Duration(perHour)), 5)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = downloadHeaderTimeout
	return &Scout{
		cfg:            cfg,
		apiKey:         apiKey,
		searchURL:      searchURL,
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		downloadClient: &http.Client{Transport: transport},
		limiter:        limiter,
		retryWait:      2 * time.Second,
	}
}

// NewFromEnv reads PEXELS_API_KEY.
func NewFromEnv(cfg *config.Config) (*Scout, error) {
	key := os.Getenv("PEXELS_API_KEY")
	if key == "" {
		return nil, errors.New("PEXELS_API_KEY not set")
	}
	return New(cfg, key, ""), nil
}

// Run downloads one clip per segment into outDir, in segment order.
func (s *Scout) Run(ctx context.Context, script *types.Script, outDir string) ([]string, error) {
	log := logging.Stage("footage").WithField("script", script.ID)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, errors.Wrap(err, "create clips dir")
	}

	clips := make([]string, 0, len(script.Segments))
	for i, seg := range script.Segments {
		log.Infof("Segment %d/%d: searching %q", i+1, len(script.Segments), seg.VisualQuery)
		dest := filepath.Join(outDir, ClipName(i, seg.VisualQuery))
		if _, err := s.fetch(ctx, seg.VisualQuery, 0, dest); err != nil {
			return nil, errors.Wrapf(err, "segment %d", i+1)
		}
		clips = append(clips, dest)
	}
	log.Infof("Downloaded %d clips", len(clips))
	return clips, nil
}

// RunSingle downloads one clip long enough to cover the whole script.
func (s *Scout) RunSingle(ctx context.Context, script *types.Script, outDir string) (string, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", errors.Wrap(err, "create clips dir")
	}
	query := script.Segments[0].VisualQuery
	if script.Title != "" {
		query = script.Title
	}
	dest := filepath.Join(outDir, ClipName(0, query))
	logging.Stage("footage").Infof("Single clip mode: %q, at least %.0fs", query, script.TotalDuration())
	return s.fetch(ctx, query, script.TotalDuration(), dest)
}

func (s *Scout) fetch(ctx context.Context, query string, minDuration float64, dest string) (string, error) {
	resp, err := s.Search(ctx, query)
	if err != nil {
		return "", err
	}
	video, ok := pickVideo(resp.Videos, minDuration)
	if !ok {
		return "", errors.Errorf("no Pexels results for query %q", query)
	}
	link := PickBestFile(video.VideoFiles, s.cfg.Footage.PreferredHeight)
	if link == "" {
		return "", errors.Errorf("no downloadable file for query %q", query)
	}
	if err := s.download(ctx, link, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// Search queries the Pexels video API.
func (s *Scout) Search(ctx context.Context, query string) (*SearchResponse, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("per_page", fmt.Sprintf("%d", s.cfg.Footage.PerPage))
	if s.cfg.Footage.Orientation != "" {
		params.Set("orientation", s.cfg.Footage.Orientation)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.searchURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "pexels search")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Errorf("pexels search: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode pexels response")
	}
	return &out, nil
}

// pickVideo returns the first hit at least minDuration long, or the
// longest hit when none is long enough.
func pickVideo(videos []Video, minDuration float64) (Video, bool) {
	if len(videos) == 0 {
		return Video{}, false
	}
	if minDuration <= 0 {
		return videos[0], true
	}
	longest := videos[0]
	for _, v := range videos {
		if v.Duration >= minDuration {
			return v, true
		}
		if v.Duration > longest.Duration {
			longest = v
		}
	}
	return longest, true
}

// PickBestFile prefers HD renditions, then the largest frame area.
func PickBestFile(files []VideoFile, preferredHeight int) string {
	if len(files) == 0 {
		return ""
	}
	if preferredHeight <= 0 {
		preferredHeight = 1080
	}
	isHD := func(f VideoFile) bool {
		return f.Height >= preferredHeight || f.Width >= preferredHeight
	}
	sorted := append([]VideoFile(nil), files...)
	sort.SliceStable(sorted, func(i, j int) bool {
		hi, hj := isHD(sorted[i]), isHD(sorted[j])
		if hi != hj {
			return hi
		}
		return sorted[i].Width*sorted[i].Height > sorted[j].Width*sorted[j].Height
	})
	for _, f := range sorted {
		if f.Link != "" {
			return f.Link
		}
	}
	return ""
}

// download retries transient failures and only exposes complete files.
func (s *Scout) download(ctx context.Context, link, dest string) error {
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		err = s.downloadOnce(ctx, link, dest)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if permanent(err) {
			break
		}
		logging.Stage("footage").WithError(err).Warnf("Download attempt %d failed", attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * s.retryWait):
		}
	}
	return errors.Wrap(err, "download clip")
}

func (s *Scout) downloadOnce(ctx context.Context, link, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return err
	}
	resp, err := s.downloadClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode}
	}

	tmp := artifact.TempPath(dest)
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return artifact.Commit(tmp, dest)
}

// ClipName is segment_NN_<query>.mp4 with the query made filename-safe.
func ClipName(index int, query string) string {
	var sb strings.Builder
	for _, r := range query {
		if r < 128 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == ' ' || r == '-') {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
	}
	safe := sb.String()
	if len(safe) > 50 {
		safe = safe[:50]
	}
	safe = strings.ReplaceAll(strings.TrimSpace(safe), " ", "_")
	return fmt.Sprintf("segment_%02d_%s.mp4", index, safe)
}
