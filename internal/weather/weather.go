// Package weather answers weather commands from the Open-Meteo forecast API
// for a fixed table of cities.
package weather

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"zideebot/internal/httpx"
	"zideebot/internal/metrics"
)

const DefaultBaseURL = "https://api.open-meteo.com/v1/forecast"

//go:embed cities.yaml
var citiesYAML []byte

// City is one entry of the lookup table.
type City struct {
	Key      string  `yaml:"key"`
	Name     string  `yaml:"name"`
	Lat      float64 `yaml:"lat"`
	Lon      float64 `yaml:"lon"`
	Region   string  `yaml:"region"` // "id" or "intl"
	Featured bool    `yaml:"featured"`
}

// LoadCities parses a city table. Keys are lowercased.
func LoadCities(data []byte) ([]City, error) {
	var f struct {
		Cities []City `yaml:"cities"`
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse cities: %w", err)
	}
	if len(f.Cities) == 0 {
		return nil, fmt.Errorf("parse cities: empty table")
	}
	for i := range f.Cities {
		f.Cities[i].Key = strings.ToLower(strings.TrimSpace(f.Cities[i].Key))
	}
	return f.Cities, nil
}

// DefaultCities returns the table compiled into the binary.
func DefaultCities() []City {
	c, err := LoadCities(citiesYAML)
	if err != nil {
		panic(err)
	}
	return c
}

type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Cities     []City
	// Location is used for the "Update" timestamp. Default Asia/Jakarta.
	Location *time.Location
	Logger   *slog.Logger
	Now      func() time.Time
}

// Client implements the weather commands. Every method returns sendable text.
type Client struct {
	baseURL string
	retrier *httpx.Retrier
	cities  []City
	byKey   map[string]City
	loc     *time.Location
	logger  *slog.Logger
	now     func() time.Time
}

func New(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpx.NewClient(15 * time.Second)
	}
	if cfg.Cities == nil {
		cfg.Cities = DefaultCities()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		loc, err := time.LoadLocation("Asia/Jakarta")
		if err != nil {
			loc = time.FixedZone("WIB", 7*3600)
		}
		cfg.Location = loc
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	byKey := make(map[string]City, len(cfg.Cities))
	for _, c := range cfg.Cities {
		byKey[c.Key] = c
	}
	r := httpx.NewRetrier(cfg.HTTPClient, cfg.Logger)
	r.Retries = 2
	return &Client{
		baseURL: cfg.BaseURL,
		retrier: r,
		cities:  cfg.Cities,
		byKey:   byKey,
		loc:     cfg.Location,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
}

// Lookup finds a city by name, case-insensitively.
func (c *Client) Lookup(name string) (City, bool) {
	city, ok := c.byKey[strings.ToLower(strings.TrimSpace(name))]
	return city, ok
}

type forecastResponse struct {
	Current struct {
		Temperature   float64 `json:"temperature_2m"`
		Humidity      float64 `json:"relative_humidity_2m"`
		Apparent      float64 `json:"apparent_temperature"`
		Precipitation float64 `json:"precipitation"`
		WeatherCode   int     `json:"weather_code"`
		WindSpeed     float64 `json:"wind_speed_10m"`
		WindDirection float64 `json:"wind_direction_10m"`
	} `json:"current"`
	Hourly struct {
		Time        []string  `json:"time"`
		Temperature []float64 `json:"temperature_2m"`
		WeatherCode []int     `json:"weather_code"`
	} `json:"hourly"`
	Daily struct {
		Max     []float64 `json:"temperature_2m_max"`
		Min     []float64 `json:"temperature_2m_min"`
		Sunrise []string  `json:"sunrise"`
		Sunset  []string  `json:"sunset"`
	} `json:"daily"`
}

// Open-Meteo local times carry no zone and no seconds.
const localTimeLayout = "2006-01-02T15:04"

func (c *Client) fetch(ctx context.Context, city City, params url.Values) (*forecastResponse, error) {
	params.Set("latitude", strconv.FormatFloat(city.Lat, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(city.Lon, 'f', -1, 64))
	params.Set("timezone", "auto")
	params.Set("forecast_days", "1")
	endpoint := c.baseURL + "?" + params.Encode()

	metrics.WeatherRequests.Inc()
	resp, err := c.retrier.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("open-meteo returned %d", resp.StatusCode)
	}
	var out forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode open-meteo response: %w", err)
	}
	return &out, nil
}

// Current reports the current conditions for a city.
func (c *Client) Current(ctx context.Context, name string) string {
	city, ok := c.Lookup(name)
	if !ok {
		return c.SupportedCities(name)
	}
	data, err := c.fetch(ctx, city, url.Values{
		"current": {"temperature_2m,relative_humidity_2m,apparent_temperature,precipitation,rain,weather_code,wind_speed_10m,wind_direction_10m"},
		"hourly":  {"temperature_2m,weather_code"},
		"daily":   {"temperature_2m_max,temperature_2m_min,sunrise,sunset,weather_code"},
	})
	if err != nil {
		c.logger.Warn("weather request failed", "city", city.Key, "err", err)
		return msgCurrentError
	}

	cur := data.Current
	var sb strings.Builder
	fmt.Fprintf(&sb, "🌤️ **Cuaca %s** *(Real-time)*\n\n", city.Name)
	fmt.Fprintf(&sb, "🌡️ **Suhu Saat Ini:** %d°C\n", round(cur.Temperature))
	fmt.Fprintf(&sb, "🔥 **Terasa Seperti:** %d°C\n", round(cur.Apparent))
	if len(data.Daily.Min) > 0 && len(data.Daily.Max) > 0 {
		fmt.Fprintf(&sb, "🌡️ **Min/Max:** %d°C / %d°C\n", round(data.Daily.Min[0]), round(data.Daily.Max[0]))
	}
	fmt.Fprintf(&sb, "💧 **Kelembaban:** %s%%\n", num(cur.Humidity))
	fmt.Fprintf(&sb, "💨 **Angin:** %s km/h %s\n", num(cur.WindSpeed), WindDirection(cur.WindDirection))
	fmt.Fprintf(&sb, "🌧️ **Curah Hujan:** %s mm\n", num(cur.Precipitation))
	fmt.Fprintf(&sb, "☁️ **Kondisi:** %s\n\n", Describe(cur.WeatherCode))
	if len(data.Daily.Sunrise) > 0 && len(data.Daily.Sunset) > 0 {
		fmt.Fprintf(&sb, "🌅 **Sunrise:** %s\n", clock(data.Daily.Sunrise[0]))
		fmt.Fprintf(&sb, "🌇 **Sunset:** %s\n\n", clock(data.Daily.Sunset[0]))
	}
	fmt.Fprintf(&sb, "⏰ **Update:** %s\n", c.now().In(c.loc).Format("2/1/2006 15.04.05"))
	fmt.Fprintf(&sb, "📍 **Koordinat:** %s°, %s°\n\n", num(city.Lat), num(city.Lon))
	sb.WriteString("🌐 **Powered by Open-Meteo** (Free & Real-time)")
	return sb.String()
}

// Forecast lists the next six hourly entries for a city.
func (c *Client) Forecast(ctx context.Context, name string) string {
	city, ok := c.Lookup(name)
	if !ok {
		return c.SupportedCities(name)
	}
	data, err := c.fetch(ctx, city, url.Values{"hourly": {"temperature_2m,weather_code"}})
	if err != nil {
		c.logger.Warn("forecast request failed", "city", city.Key, "err", err)
		return "❌ Error mengambil prakiraan cuaca. Silakan coba lagi."
	}

	h := data.Hourly
	n := min(6, len(h.Time), len(h.Temperature), len(h.WeatherCode))
	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		hour := "?"
		if t, err := time.Parse(localTimeLayout, h.Time[i]); err == nil {
			hour = strconv.Itoa(t.Hour())
		}
		lines = append(lines, fmt.Sprintf("%s:00 - %d°C %s", hour, round(h.Temperature[i]), Describe(h.WeatherCode[i])))
	}

	return fmt.Sprintf("🌤️ **Prakiraan Cuaca %s** *(6 jam ke depan)*\n\n%s\n\n⏰ **Update:** %s\n🌐 **Powered by Open-Meteo**",
		city.Name, strings.Join(lines, "\n"), c.now().In(c.loc).Format("2/1/2006 15.04.05"))
}

// SupportedCities is the reply for an unknown city.
func (c *Client) SupportedCities(requested string) string {
	var local, intl []string
	for _, city := range c.cities {
		if !city.Featured {
			continue
		}
		label := "• " + titleCase(city.Key)
		if city.Region == "id" {
			local = append(local, label)
		} else {
			intl = append(intl, label)
		}
	}
	return fmt.Sprintf(`❌ **Kota "%s" tidak ditemukan**

🇮🇩 **Kota Indonesia yang tersedia:**
%s

🌍 **Kota Internasional populer:**
%s

💡 **Tips pencarian:**
• Gunakan nama kota yang lengkap
• Tidak perlu tanda baca atau aksen
• Contoh: "kuala lumpur", "new york", "ho chi minh"

🌤️ **Total %d kota tersedia dengan data real-time!**

📝 **Contoh penggunaan:**
• cuaca Jakarta
• weather Singapore
• cuaca New York`, requested, strings.Join(local, "\n"), strings.Join(intl, "\n"), len(c.cities))
}

const msgCurrentError = `❌ **Error mengambil data cuaca**

🔄 **Kemungkinan penyebab:**
• Koneksi internet bermasalah
• Server Open-Meteo sedang maintenance
• Koordinat kota tidak valid

💡 **Solusi:**
• Coba lagi dalam beberapa menit
• Pastikan koneksi internet stabil
• Coba kota lain yang tersedia

🌍 **Ketik "cuaca" untuk melihat daftar kota yang tersedia**`

var descriptions = map[int]string{
	0:  "Cerah ☀️",
	1:  "Cerah Sebagian ⛅",
	2:  "Berawan Sebagian ⛅",
	3:  "Berawan ☁️",
	45: "Berkabut 🌫️",
	48: "Berkabut dengan Embun Beku 🌫️❄️",
	51: "Gerimis Ringan 🌦️",
	53: "Gerimis Sedang 🌦️",
	55: "Gerimis Lebat 🌧️",
	56: "Gerimis Beku Ringan 🌦️❄️",
	57: "Gerimis Beku Lebat 🌧️❄️",
	61: "Hujan Ringan 🌧️",
	63: "Hujan Sedang 🌧️",
	65: "Hujan Lebat 🌧️",
	66: "Hujan Beku Ringan 🌧️❄️",
	67: "Hujan Beku Lebat 🌧️❄️",
	71: "Salju Ringan 🌨️",
	73: "Salju Sedang 🌨️",
	75: "Salju Lebat 🌨️",
	77: "Butiran Salju 🌨️",
	80: "Hujan Rintik Ringan 🌦️",
	81: "Hujan Rintik Sedang 🌧️",
	82: "Hujan Rintik Lebat 🌧️",
	85: "Hujan Salju Ringan 🌨️",
	86: "Hujan Salju Lebat 🌨️",
	95: "Badai Petir ⛈️",
	96: "Badai Petir dengan Hujan Es Ringan ⛈️🧊",
	99: "Badai Petir dengan Hujan Es Lebat ⛈️🧊",
}

// Describe maps a WMO weather code to Indonesian text.
func Describe(code int) string {
	if d, ok := descriptions[code]; ok {
		return d
	}
	return "Tidak Diketahui ❓"
}

var directions = [8]string{
	"Utara ⬆️", "Timur Laut ↗️", "Timur ➡️", "Tenggara ↘️",
	"Selatan ⬇️", "Barat Daya ↙️", "Barat ⬅️", "Barat Laut ↖️",
}

// WindDirection names the nearest of eight compass points.
func WindDirection(degrees float64) string {
	i := int(math.Round(degrees/45)) % 8
	if i < 0 {
		i += 8
	}
	return directions[i]
}

func round(v float64) int { return int(math.Round(v)) }

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// clock renders an Open-Meteo local timestamp as "06.02".
func clock(s string) string {
	t, err := time.Parse(localTimeLayout, s)
	if err != nil {
		return s
	}
	return t.Format("15.04")
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
