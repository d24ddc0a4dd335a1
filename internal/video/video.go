// Package video downloads YouTube videos and audio through the y2mate
// converter: analyze the URL, convert the chosen format, then stream the
// file to disk while enforcing the size cap.
package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"zideebot/internal/httpx"

	"github.com/dustin/go-humanize"
)

var (
	ErrInvalidURL        = errors.New("URL YouTube tidak valid")
	ErrTooLarge          = errors.New("file terlalu besar")
	ErrTooLong           = errors.New("durasi video terlalu panjang")
	ErrFormatUnavailable = errors.New("format tidak tersedia")
)

type Format string

const (
	MP4 Format = "mp4"
	MP3 Format = "mp3"
)

// Mimetype returns the MIME type of files in this format.
func (f Format) Mimetype() string {
	if f == MP3 {
		return "audio/mpeg"
	}
	return "video/mp4"
}

// Option is one downloadable quality of a video.
type Option struct {
	Quality string
	Size    string
	Key     string
}

type Info struct {
	ID        string
	Title     string
	Author    string
	Thumbnail string
	// Duration is zero when the converter did not report it.
	Duration time.Duration
	MP4      []Option
	MP3      []Option
}

// Result describes a finished download.
type Result struct {
	Path     string
	Filename string
	Title    string
	Author   string
	Duration time.Duration
	Format   Format
	Quality  string
	Size     int64
}

type ClientConfig struct {
	AnalyzeURL  string
	ConvertURL  string
	DownloadDir string
	MaxSize     int64
	MaxDuration time.Duration
	// Timeout bounds the analyze call; convert gets twice and the file
	// download four times this value.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	cfg     ClientConfig
	retrier *httpx.Retrier
	logger  *slog.Logger
	now     func() time.Time
}

func New(cfg ClientConfig) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 25 * 1024 * 1024
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 10 * time.Minute
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpx.NewClient(4 * cfg.Timeout)
	}
	if cfg.DownloadDir == "" {
		return nil, errors.New("video: download dir is required")
	}
	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	r := httpx.NewRetrier(cfg.HTTPClient, cfg.Logger)
	r.Retries = 1
	return &Client{cfg: cfg, retrier: r, logger: cfg.Logger, now: time.Now}, nil
}

var (
	validURLPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^(https?://)?(www\.|m\.)?(youtube\.com/watch\?v=|youtu\.be/)[a-zA-Z0-9_-]{11}`),
		regexp.MustCompile(`^(https?://)?(www\.|m\.)?youtube\.com/shorts/[a-zA-Z0-9_-]{11}`),
	}
	videoIDPattern = regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/|youtube\.com/v/|youtube\.com/shorts/)([a-zA-Z0-9_-]{11})`)
	unsafeTitle    = regexp.MustCompile(`[^\w\s-]`)
)

// ValidURL reports whether s looks like a YouTube watch, short link or
// shorts URL.
func ValidURL(s string) bool {
	s = strings.TrimSpace(s)
	for _, p := range validURLPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// ExtractID returns the 11 character video id, or "".
func ExtractID(s string) string {
	m := videoIDPattern.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}

type analyzeResponse struct {
	Status string `json:"status"`
	Mess   string `json:"mess"`
	Result *struct {
		Title string          `json:"title"`
		T     json.RawMessage `json:"t"`
		A     string          `json:"a"`
		Links struct {
			MP4 map[string]linkOption `json:"mp4"`
			MP3 map[string]linkOption `json:"mp3"`
		} `json:"links"`
	} `json:"result"`
}

type linkOption struct {
	Size string `json:"size"`
	K    string `json:"k"`
	Q    string `json:"q"`
}

type convertResponse struct {
	Status string `json:"status"`
	Mess   string `json:"mess"`
	Result string `json:"result"`
	DLink  string `json:"dlink"`
}

// Info asks the converter for title, duration and available formats.
func (c *Client) Info(ctx context.Context, rawURL string) (*Info, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !ValidURL(rawURL) {
		return nil, ErrInvalidURL
	}
	id := ExtractID(rawURL)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	form := url.Values{"url": {rawURL}, "q_auto": {"0"}, "ajax": {"1"}}
	var ar analyzeResponse
	if err := c.postForm(ctx, c.cfg.AnalyzeURL, form, &ar); err != nil {
		return nil, fmt.Errorf("analyze video: %w", err)
	}
	if ar.Status != "ok" || ar.Result == nil {
		return nil, fmt.Errorf("analyze video: API error: %s", orUnknown(ar.Mess))
	}

	info := &Info{
		ID:        id,
		Title:     ar.Result.Title,
		Author:    ar.Result.A,
		Thumbnail: "https://i.ytimg.com/vi/" + id + "/maxresdefault.jpg",
		Duration:  parseDuration(ar.Result.T),
		MP4:       options(ar.Result.Links.MP4),
		MP3:       options(ar.Result.Links.MP3),
	}
	if info.Title == "" {
		info.Title = "Video " + id
	}
	if info.Author == "" {
		info.Author = "Unknown Channel"
	}
	c.logger.Info("video info", "id", id, "title", info.Title, "mp4", len(info.MP4), "mp3", len(info.MP3))
	return info, nil
}

// Download converts and fetches the video in the requested format. The file
// is removed again when a cap is exceeded or the transfer fails.
func (c *Client) Download(ctx context.Context, rawURL string, format Format) (*Result, error) {
	info, err := c.Info(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if info.Duration > c.cfg.MaxDuration {
		return nil, fmt.Errorf("%w: %s (maks %s)", ErrTooLong, FormatDuration(info.Duration), FormatDuration(c.cfg.MaxDuration))
	}

	opt, ok := selectOption(info, format)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFormatUnavailable, strings.ToUpper(string(format)))
	}
	c.logger.Info("video format selected", "id", info.ID, "format", format, "quality", opt.Quality, "size", opt.Size)

	link, err := c.convert(ctx, info, opt, format)
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("%s_%d.%s", cleanTitle(info.Title), c.now().UnixMilli(), format)
	path := filepath.Join(c.cfg.DownloadDir, filename)
	size, err := c.fetch(ctx, link, path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	c.logger.Info("video downloaded", "file", filename, "size", humanize.Bytes(uint64(size)))
	return &Result{
		Path:     path,
		Filename: filename,
		Title:    info.Title,
		Author:   info.Author,
		Duration: info.Duration,
		Format:   format,
		Quality:  opt.Quality,
		Size:     size,
	}, nil
}

func (c *Client) convert(ctx context.Context, info *Info, opt Option, format Format) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*c.cfg.Timeout)
	defer cancel()

	form := url.Values{
		"type":     {"youtube"},
		"_id":      {opt.Key},
		"v_id":     {info.ID},
		"ajax":     {"1"},
		"token":    {""},
		"ftype":    {string(format)},
		"fquality": {opt.Quality},
	}
	var cr convertResponse
	if err := c.postForm(ctx, c.cfg.ConvertURL, form, &cr); err != nil {
		return "", fmt.Errorf("convert video: %w", err)
	}
	if cr.Status != "ok" {
		return "", fmt.Errorf("convert video: %s", orUnknown(cr.Mess))
	}
	link := cr.DLink
	if link == "" {
		link = cr.Result
	}
	if link == "" {
		return "", errors.New("convert video: download URL tidak ditemukan")
	}
	return link, nil
}

// fetch streams link into path and enforces MaxSize while reading.
func (c *Client) fetch(ctx context.Context, link, path string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 4*c.cfg.Timeout)
	defer cancel()

	resp, err := c.retrier.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", httpx.UserAgent)
		req.Header.Set("Referer", refererOf(c.cfg.AnalyzeURL))
		return req, nil
	})
	if err != nil {
		return 0, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download file: HTTP %d", resp.StatusCode)
	}
	if resp.ContentLength > c.cfg.MaxSize {
		return 0, c.tooLarge(resp.ContentLength)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(resp.Body, c.cfg.MaxSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("download file: %w", err)
	}
	if n > c.cfg.MaxSize {
		return 0, c.tooLarge(n)
	}
	return n, nil
}

func (c *Client) tooLarge(n int64) error {
	return fmt.Errorf("%w: lebih dari %s (maks %s)", ErrTooLarge,
		humanize.Bytes(uint64(n)), humanize.Bytes(uint64(c.cfg.MaxSize)))
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	body := form.Encode()
	resp, err := c.retrier.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("User-Agent", httpx.UserAgent)
		req.Header.Set("Accept", "*/*")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		req.Header.Set("Referer", refererOf(endpoint))
		req.Header.Set("Origin", strings.TrimSuffix(refererOf(endpoint), "/"))
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Remove deletes a downloaded file.
func (c *Client) Remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("cleanup download", "path", path, "err", err)
		return
	}
	c.logger.Debug("download removed", "path", path)
}

// CleanupOld removes downloads older than maxAge and returns how many files
// were deleted.
func (c *Client) CleanupOld(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(c.cfg.DownloadDir)
	if err != nil {
		return 0, fmt.Errorf("read download dir: %w", err)
	}
	cutoff := c.now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil || !fi.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(c.cfg.DownloadDir, e.Name())
		if err := os.Remove(path); err != nil {
			c.logger.Warn("cleanup old download", "path", path, "err", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		c.logger.Info("old downloads removed", "count", removed)
	}
	return removed, nil
}

func selectOption(info *Info, format Format) (Option, bool) {
	var opts []Option
	var prefs []string
	switch format {
	case MP4:
		opts, prefs = info.MP4, []string{"360p", "480p"}
	case MP3:
		opts, prefs = info.MP3, []string{"128"}
	}
	if len(opts) == 0 {
		return Option{}, false
	}
	for _, p := range prefs {
		for _, o := range opts {
			if strings.HasPrefix(o.Quality, p) {
				return o, true
			}
		}
	}
	return opts[0], true
}

func options(m map[string]linkOption) []Option {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []Option
	for _, k := range keys {
		o := m[k]
		if o.K == "" {
			continue
		}
		q := o.Q
		if q == "" {
			q = k
		}
		out = append(out, Option{Quality: q, Size: orUnknown(o.Size), Key: o.K})
	}
	return out
}

// parseDuration accepts seconds as a number or string, or a "m:ss" or
// "h:mm:ss" clock.
func parseDuration(raw json.RawMessage) time.Duration {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	var total int
	for _, part := range strings.Split(s, ":") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second
}

// FormatDuration renders d as m:ss or h:mm:ss, or "Unknown" for zero.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "Unknown"
	}
	secs := int(d.Round(time.Second) / time.Second)
	h, m, s := secs/3600, secs/60%60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func cleanTitle(title string) string {
	t := strings.TrimSpace(unsafeTitle.ReplaceAllString(title, ""))
	if r := []rune(t); len(r) > 30 {
		t = string(r[:30])
	}
	if t == "" {
		t = "video"
	}
	return t
}

func refererOf(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/"
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
