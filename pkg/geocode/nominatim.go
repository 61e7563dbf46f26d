package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/flood-risk/internal/address"
	"github.com/sells-group/flood-risk/internal/model"
	"github.com/sells-group/flood-risk/internal/resilience"
)

// DefaultNominatimURL is the public OpenStreetMap Nominatim instance. Its
// usage policy allows at most one request per second.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Category    string `json:"category"`
	Type        string `json:"type"`
}

// NominatimOption configures a NominatimClient.
type NominatimOption func(*NominatimClient)

// WithHTTPClient sets the HTTP client used for searches.
func WithHTTPClient(hc *http.Client) NominatimOption {
	return func(n *NominatimClient) {
		n.httpClient = hc
	}
}

// WithBaseURL points the client at another Nominatim instance.
func WithBaseURL(base string) NominatimOption {
	return func(n *NominatimClient) {
		n.baseURL = strings.TrimRight(base, "/")
	}
}

// WithUserAgent sets the User-Agent header the usage policy requires.
func WithUserAgent(ua string) NominatimOption {
	return func(n *NominatimClient) {
		if ua != "" {
			n.userAgent = ua
		}
	}
}

// WithEmail adds a contact address to every request.
func WithEmail(email string) NominatimOption {
	return func(n *NominatimClient) {
		n.email = email
	}
}

// WithDelay sets the minimum delay between successive requests. Zero or
// negative disables the delay, which only makes sense for private instances.
func WithDelay(d time.Duration) NominatimOption {
	return func(n *NominatimClient) {
		if d <= 0 {
			n.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		n.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) NominatimOption {
	return func(n *NominatimClient) {
		n.retry = cfg
	}
}

// WithCircuitBreaker sets the breaker guarding the service.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) NominatimOption {
	return func(n *NominatimClient) {
		n.breaker = cb
	}
}

// NominatimClient geocodes addresses with the Nominatim structured search API.
type NominatimClient struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	email      string
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
	breaker    *resilience.CircuitBreaker
}

// NewNominatim creates a client with a one second delay between requests.
func NewNominatim(opts ...NominatimOption) *NominatimClient {
	n := &NominatimClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    DefaultNominatimURL,
		userAgent:  "flood-risk",
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
		retry:      resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.breaker == nil {
		n.breaker = resilience.NewCircuitBreaker(resilience.FromCircuitConfig(MethodNominatim, 0, 0))
	}
	if n.retry.OnRetry == nil {
		n.retry.OnRetry = resilience.RetryLogger(MethodNominatim)
	}
	return n
}

// Name implements Client.
func (n *NominatimClient) Name() string { return MethodNominatim }

// Close implements Client.
func (n *NominatimClient) Close() error { return nil }

// Geocode implements Client. Invalid addresses are not sent.
func (n *NominatimClient) Geocode(ctx context.Context, addr model.Address) (*Result, error) {
	if !addr.Valid {
		return unmatched(MethodNominatim), nil
	}
	return resilience.ExecuteVal(ctx, n.breaker, func(ctx context.Context) (*Result, error) {
		return resilience.DoVal(ctx, n.retry, func(ctx context.Context) (*Result, error) {
			return n.search(ctx, addr)
		})
	})
}

// searchParams builds the structured query: "<street> <number><letter> <suffix>",
// a spaced postcode and the country.
func searchParams(addr model.Address) url.Values {
	street := addr.Street + " " + strconv.Itoa(addr.HouseNumber) + addr.HouseLetter
	if addr.HasSuffix() {
		street += " " + addr.HouseSuffix
	}
	return url.Values{
		"street":       {strings.TrimSpace(street)},
		"postalcode":   {address.SpacedPostcode(addr.Postcode)},
		"country":      {"Nederland"},
		"countrycodes": {"nl"},
		"format":       {"jsonv2"},
		"limit":        {"1"},
	}
}

func (n *NominatimClient) search(ctx context.Context, addr model.Address) (*Result, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "nominatim: rate limit")
	}

	params := searchParams(addr)
	if n.email != "" {
		params.Set("email", n.email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "nominatim: build request")
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "nominatim: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		statusErr := eris.Errorf("nominatim: returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "nominatim: read body")
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, eris.Wrap(err, "nominatim: parse response")
	}
	if len(places) == 0 {
		return unmatched(MethodNominatim), nil
	}

	place := places[0]
	lat, err := strconv.ParseFloat(place.Lat, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "nominatim: parse latitude %q", place.Lat)
	}
	lon, err := strconv.ParseFloat(place.Lon, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "nominatim: parse longitude %q", place.Lon)
	}

	zap.L().Debug("nominatim: match",
		zap.String("address", address.Normalize(addr)),
		zap.String("display_name", place.DisplayName),
		zap.String("type", place.Type),
	)

	result := matchedWGS84(MethodNominatim, lat, lon)
	result.DisplayName = place.DisplayName
	return result, nil
}
