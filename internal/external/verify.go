package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"dripline/internal/types"
)

// dohEndpoint is Cloudflare's DNS-over-HTTPS resolver. Queried with the
// application/dns-json content type; no DNS wire-format handling needed.
const dohEndpoint = "https://one.one.one.one/dns-query"

// disposableDomains lists throwaway-mail providers we refuse to enqueue for.
// Sending to these burns provider reputation for addresses nobody reads.
var disposableDomains = map[string]struct{}{
	"10minutemail.com":    {},
	"dispostable.com":     {},
	"fakeinbox.com":       {},
	"getnada.com":         {},
	"guerrillamail.com":   {},
	"guerrillamail.net":   {},
	"mailinator.com":      {},
	"maildrop.cc":         {},
	"mintemail.com":       {},
	"sharklasers.com":     {},
	"temp-mail.org":       {},
	"tempmail.com":        {},
	"throwawaymail.com":   {},
	"trashmail.com":       {},
	"yopmail.com":         {},
	"mohmal.com":          {},
	"mailnesia.com":       {},
	"spamgourmet.com":     {},
	"mytemp.email":        {},
	"emailondeck.com":     {},
	"burnermail.io":       {},
	"inboxkitten.com":     {},
	"tempr.email":         {},
	"discard.email":       {},
	"33mail.com":          {},
	"anonbox.net":         {},
	"spam4.me":            {},
	"mail-temporaire.fr":  {},
	"jetable.org":         {},
	"wegwerfmail.de":      {},
	"trash-mail.at":       {},
	"tempinbox.com":       {},
	"mailcatch.com":       {},
	"spambox.us":          {},
	"incognitomail.org":   {},
	"tempmailaddress.com": {},
}

// VerifierConfig controls which recipient checks run.
type VerifierConfig struct {
	// CheckDisposable rejects addresses from known throwaway-mail domains.
	CheckDisposable bool
	// CheckMX requires the recipient domain to publish an MX record. Fails
	// closed: a resolver outage rejects the address rather than letting an
	// unverifiable one through.
	CheckMX bool
	Timeout time.Duration
	// ResolverURL overrides the DNS-over-HTTPS endpoint for tests.
	ResolverURL string
	Logger      *slog.Logger
}

// Verifier validates recipient addresses at enqueue time: syntax, a
// disposable-domain denylist, and optionally an MX record lookup over
// DNS-over-HTTPS.
type Verifier struct {
	cfg      VerifierConfig
	validate *validator.Validate
	base     *BaseClient
}

var _ RecipientVerifier = (*Verifier)(nil)

// NewVerifier creates a Verifier from the given config.
func NewVerifier(cfg VerifierConfig, opts ...BaseClientOption) *Verifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ResolverURL == "" {
		cfg.ResolverURL = dohEndpoint
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Verifier{
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		base:     NewBaseClient(&http.Client{Timeout: cfg.Timeout}, "doh-resolver", DefaultRetryPolicy(), opts...),
	}
}

// Verify runs the enabled checks in order: format, disposable denylist, MX.
// The first failing check determines the returned error code.
func (v *Verifier) Verify(ctx context.Context, address string) error {
	if err := v.validate.Var(address, "required,email"); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidEmail,
			fmt.Sprintf("invalid email address %q", address), err)
	}

	domain := strings.ToLower(address[strings.LastIndex(address, "@")+1:])

	if v.cfg.CheckDisposable {
		if _, blocked := disposableDomains[domain]; blocked {
			return types.NewAppError(types.ErrCodeEmailDisposable,
				fmt.Sprintf("disposable email domain %q is not accepted", domain), nil)
		}
	}

	if v.cfg.CheckMX {
		hasMX, err := v.lookupMX(ctx, domain)
		if err != nil {
			v.cfg.Logger.WarnContext(ctx, "mx lookup failed, rejecting address",
				"domain", domain, "error", err)
			return types.NewAppError(types.ErrCodeEmailNoMX,
				fmt.Sprintf("could not verify mail records for domain %q", domain), err)
		}
		if !hasMX {
			return types.NewAppError(types.ErrCodeEmailNoMX,
				fmt.Sprintf("domain %q has no mail exchanger records", domain), nil)
		}
	}

	return nil
}

// dohAnswer matches the application/dns-json response shape.
type dohAnswer struct {
	Status int `json:"Status"`
	Answer []struct {
		Type int    `json:"type"`
		Data string `json:"data"`
	} `json:"Answer"`
}

// dnsTypeMX is the DNS record type for mail exchangers.
const dnsTypeMX = 15

// lookupMX queries the DoH resolver for MX records on the given domain.
func (v *Verifier) lookupMX(ctx context.Context, domain string) (bool, error) {
	q := url.Values{}
	q.Set("name", domain)
	q.Set("type", "MX")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.ResolverURL+"?"+q.Encode(), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/dns-json")

	resp, err := v.base.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("resolver returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return false, err
	}

	var answer dohAnswer
	if err := json.Unmarshal(body, &answer); err != nil {
		return false, fmt.Errorf("failed to decode resolver response: %w", err)
	}

	// Status 0 is NOERROR; NXDOMAIN and friends mean no usable records.
	if answer.Status != 0 {
		return false, nil
	}
	for _, a := range answer.Answer {
		if a.Type == dnsTypeMX && a.Data != "" {
			return true, nil
		}
	}
	return false, nil
}
