package upload

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"reels-pipeline/artifact"
	"reels-pipeline/config"
	"reels-pipeline/logging"
	"reels-pipeline/types"

	iterate "reels-pipeline/08_iterate"
)

const maxTitleLen = 100

// Metadata is what gets attached to an uploaded Short.
type Metadata struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Tags             []string `json:"tags"`
	CategoryID       string   `json:"category_id"`
	Visibility       string   `json:"visibility"`
	ScheduledTimeUTC string   `json:"scheduled_time_utc,omitempty"`
}

// MetadataFor builds upload metadata from the script and run outcome.
func MetadataFor(cfg *config.Config, s *types.Script, o *iterate.Outcome) *Metadata {
	title := strings.TrimSpace(s.Title)
	if title == "" {
		title = strings.ReplaceAll(s.ID, "_", " ")
	}
	title += " #shorts"
	if r := []rune(title); len(r) > maxTitleLen {
		title = string(r[:maxTitleLen])
	}

	var desc strings.Builder
	desc.WriteString(s.Captions())
	if o != nil && o.Rating != nil {
		fmt.Fprintf(&desc, "\n\nQuality score %.1f after %d attempt(s).", o.Rating.OverallScore, o.Attempts)
	}
	desc.WriteString("\n\n#shorts #reels #learn")

	tags := append([]string{"shorts"}, cfg.Upload.Tags...)
	return &Metadata{
		Title:       title,
		Description: desc.String(),
		Tags:        tags,
		CategoryID:  cfg.Upload.CategoryID,
		Visibility:  cfg.Upload.Visibility,
	}
}

// Allowed reports whether a run may be published. Only passed runs qualify;
// a needs_review verdict also needs upload.allow_needs_review.
func Allowed(cfg *config.Config, o *iterate.Outcome) error {
	if !cfg.Upload.Enabled {
		return errors.New("upload disabled in config")
	}
	if o == nil || o.Disposition != iterate.DispositionPassed {
		return errors.New("run did not pass")
	}
	if o.FinalVideo == "" {
		return errors.New("no final video")
	}
	if o.NeedsReview && !cfg.Upload.AllowNeedsReview {
		return errors.New("safety verdict needs_review, human sign-off required")
	}
	return nil
}

// Uploader handles YouTube video upload via Data API v3
type Uploader struct {
	cfg        *config.Config
	endpoint   string
	httpClient func(ctx context.Context) (*http.Client, error)
}

// New creates a new Uploader
func New(cfg *config.Config) *Uploader {
	return &Uploader{cfg: cfg, httpClient: oauthClient}
}

// Run uploads the video with its metadata and returns the video ID and URL.
func (u *Uploader) Run(ctx context.Context, videoFile string, metadata *Metadata) (string, string, error) {
	log := logging.Stage("upload")
	log.Info("Authenticating with YouTube API...")

	client, err := u.httpClient(ctx)
	if err != nil {
		return "", "", errors.Wrap(err, "youtube auth")
	}
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if u.endpoint != "" {
		opts = append(opts, option.WithEndpoint(u.endpoint))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return "", "", errors.Wrap(err, "youtube service")
	}

	status := &youtube.VideoStatus{
		PrivacyStatus:           metadata.Visibility,
		SelfDeclaredMadeForKids: u.cfg.Upload.MadeForKids,
	}
	if metadata.ScheduledTimeUTC != "" && metadata.Visibility == "public" {
		// scheduled videos must start private
		status.PrivacyStatus = "private"
		status.PublishAt = metadata.ScheduledTimeUTC
		log.Infof("Scheduled for: %s UTC", metadata.ScheduledTimeUTC)
	}
	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:                metadata.Title,
			Description:          metadata.Description,
			Tags:                 metadata.Tags,
			CategoryId:           metadata.CategoryID,
			DefaultLanguage:      u.cfg.Upload.DefaultLanguage,
			DefaultAudioLanguage: u.cfg.Upload.DefaultLanguage,
		},
		Status: status,
	}

	f, err := os.Open(videoFile)
	if err != nil {
		return "", "", errors.Wrap(err, "open video file")
	}
	defer f.Close()
	if fi, err := f.Stat(); err == nil {
		log.Infof("Uploading %q (%.1f MB)", metadata.Title, float64(fi.Size())/1024/1024)
	}

	call := svc.Videos.Insert([]string{"snippet", "status"}, video).
		NotifySubscribers(u.cfg.Upload.NotifySubscribers).
		Context(ctx)
	call.Media(f)

	uploaded, err := call.Do()
	if err != nil {
		return "", "", errors.Wrap(err, "youtube upload")
	}

	url := "https://www.youtube.com/shorts/" + uploaded.Id
	log.WithFields(map[string]interface{}{"video_id": uploaded.Id, "url": url}).Info("Uploaded")
	return uploaded.Id, url, nil
}

// oauthClient builds an HTTP client from the refresh token in the environment.
func oauthClient(ctx context.Context) (*http.Client, error) {
	clientID := os.Getenv("YOUTUBE_CLIENT_ID")
	clientSecret := os.Getenv("YOUTUBE_CLIENT_SECRET")
	refreshToken := os.Getenv("YOUTUBE_REFRESH_TOKEN")
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, errors.New("YOUTUBE_CLIENT_ID, YOUTUBE_CLIENT_SECRET, or YOUTUBE_REFRESH_TOKEN not set")
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{youtube.YoutubeUploadScope, youtube.YoutubeScope},
	}
	token := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Hour), // force refresh
	}
	return conf.Client(ctx, token), nil
}

// LogUpload saves the upload result next to the run logs.
func LogUpload(videoID, videoURL, videoFile, logDir string, metadata *Metadata) (string, error) {
	entry := map[string]interface{}{
		"video_id":      videoID,
		"video_url":     videoURL,
		"title":         metadata.Title,
		"scheduled_utc": metadata.ScheduledTimeUTC,
		"uploaded_at":   time.Now().UTC().Format(time.RFC3339),
		"video_file":    videoFile,
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(logDir, fmt.Sprintf("upload_%s.json", time.Now().Format("20060102_150405")))
	if err := artifact.WriteJSON(path, entry); err != nil {
		return "", err
	}
	logging.Stage("upload").WithField("path", path).Info("Upload log saved")
	return path, nil
}
