package registry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Legion-Team/legion-go/crypto"
	"github.com/Legion-Team/legion-go/wire"
)

// Client resolves named addresses from a remote registry over HTTP. It
// verifies the platform signature on every update it accepts, so a
// compromised registry host cannot serve forged addresses.
type Client struct {
	baseURL    string
	admin      crypto.PublicKey
	httpClient *http.Client
}

// NewClient creates a registry client. The admin key is the only signer
// whose updates are trusted.
func NewClient(baseURL string, admin crypto.PublicKey) *Client {
	return &Client{
		baseURL:    baseURL,
		admin:      admin,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Resolve fetches and verifies the current address for a name.
// Implements the sale engine's AddressLookup.
func (c *Client) Resolve(name string) (crypto.PublicKey, error) {
	resp, err := c.httpClient.Get(fmt.Sprintf("%s/addresses/%s", c.baseURL, name))
	if err != nil {
		return nil, fmt.Errorf("fetch address: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry returned status %d for %q", resp.StatusCode, name)
	}

	signed, err := wire.Decode[wire.Signed[AddressUpdate]](resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode address update: %w", err)
	}

	update, signer, err := signed.Recover()
	if err != nil {
		return nil, fmt.Errorf("verify address update: %w", err)
	}
	if !signer.Equal(c.admin) {
		return nil, fmt.Errorf("address update for %q signed by %s, not the platform admin", name, signer)
	}
	if update.Name != name {
		return nil, fmt.Errorf("registry answered for %q instead of %q", update.Name, name)
	}

	return update.Address, nil
}

// Snapshot fetches and verifies the full address book. Updates with bad
// signatures are dropped.
func (c *Client) Snapshot() (map[string]crypto.PublicKey, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/addresses")
	if err != nil {
		return nil, fmt.Errorf("fetch addresses: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	raw, err := wire.Decode[map[string]*wire.Signed[AddressUpdate]](resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode address book: %w", err)
	}

	out := make(map[string]crypto.PublicKey, len(*raw))
	for name, signed := range *raw {
		update, signer, err := signed.Recover()
		if err != nil || !signer.Equal(c.admin) || update.Name != name {
			continue
		}
		out[name] = update.Address
	}
	return out, nil
}
