// Package registry implements the Legion address registry: a named
// address book for the platform-controlled identities (bouncer, signer,
// fee receiver) that sale instances sync from explicitly. Updates are
// platform-signed and persisted; reads are public.
package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/Legion-Team/legion-go/crypto"
	"github.com/Legion-Team/legion-go/wire"
)

// AddressUpdate assigns an address to a symbolic name. The nonce is
// strictly increasing per name so a captured update cannot roll an
// address back.
type AddressUpdate struct {
	Name    string           `json:"name"`
	Address crypto.PublicKey `json:"address"`
	Nonce   uint64           `json:"nonce"`
}

// UpdateResponse confirms an accepted address update.
type UpdateResponse struct {
	Success bool   `json:"success"`
	Name    string `json:"name"`
	Nonce   uint64 `json:"nonce"`
}

// Registry manages the named address book. Every write must be signed
// by the configured admin key.
type Registry struct {
	log   *slog.Logger
	admin crypto.PublicKey
	store Store

	mu        sync.RWMutex
	addresses map[string]*wire.Signed[AddressUpdate]
}

// New creates a registry backed by the given store, loading persisted
// addresses before serving.
func New(log *slog.Logger, admin crypto.PublicKey, store Store) (*Registry, error) {
	if admin.IsZero() {
		return nil, fmt.Errorf("admin key is zero")
	}

	addresses, err := store.LoadAddresses()
	if err != nil {
		return nil, fmt.Errorf("loading addresses: %w", err)
	}

	return &Registry{
		log:       log,
		admin:     admin,
		store:     store,
		addresses: addresses,
	}, nil
}

// RegisterRoutes registers the registry's HTTP routes.
func (r *Registry) RegisterRoutes(router chi.Router) {
	router.Put("/addresses/{name}", r.handleSetAddress)
	router.Delete("/addresses/{name}", r.handleDeleteAddress)
	router.Get("/addresses", r.handleGetAddresses)
	router.Get("/addresses/{name}", r.handleGetAddress)
}

func (r *Registry) handleSetAddress(w http.ResponseWriter, req *http.Request) {
	name := chi.URLParam(req, "name")

	var signed wire.Signed[AddressUpdate]
	if err := json.NewDecoder(req.Body).Decode(&signed); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	update, signer, err := signed.Recover()
	if err != nil {
		http.Error(w, fmt.Errorf("invalid signature: %w", err).Error(), http.StatusForbidden)
		return
	}
	if !signer.Equal(r.admin) {
		http.Error(w, "signer is not the registry admin", http.StatusForbidden)
		return
	}
	if update.Name != name {
		http.Error(w, fmt.Sprintf("name mismatch: URL says %s, body says %s", name, update.Name), http.StatusBadRequest)
		return
	}
	if update.Address.IsZero() {
		http.Error(w, "address is zero", http.StatusBadRequest)
		return
	}

	r.mu.Lock()
	if prev, ok := r.addresses[name]; ok && update.Nonce <= prev.Object.Nonce {
		r.mu.Unlock()
		http.Error(w, fmt.Sprintf("stale nonce %d", update.Nonce), http.StatusConflict)
		return
	}

	// Persist before publishing so memory never serves an address a
	// restart would roll back.
	if err := r.store.SaveAddress(&signed); err != nil {
		r.mu.Unlock()
		r.log.Error("persisting address update failed", "name", name, "err", err)
		http.Error(w, "persistence failure", http.StatusInternalServerError)
		return
	}
	r.addresses[name] = &signed
	r.mu.Unlock()

	r.log.Info("address updated", "name", name, "address", update.Address.String(), "nonce", update.Nonce)
	json.NewEncoder(w).Encode(&UpdateResponse{Success: true, Name: name, Nonce: update.Nonce})
}

func (r *Registry) handleDeleteAddress(w http.ResponseWriter, req *http.Request) {
	name := chi.URLParam(req, "name")

	var signed wire.Signed[AddressUpdate]
	if err := json.NewDecoder(req.Body).Decode(&signed); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	update, signer, err := signed.Recover()
	if err != nil {
		http.Error(w, fmt.Errorf("invalid signature: %w", err).Error(), http.StatusForbidden)
		return
	}
	if !signer.Equal(r.admin) {
		http.Error(w, "signer is not the registry admin", http.StatusForbidden)
		return
	}
	if update.Name != name {
		http.Error(w, "name mismatch", http.StatusBadRequest)
		return
	}

	r.mu.Lock()
	if err := r.store.DeleteAddress(name); err != nil {
		r.mu.Unlock()
		r.log.Error("deleting address failed", "name", name, "err", err)
		http.Error(w, "persistence failure", http.StatusInternalServerError)
		return
	}
	delete(r.addresses, name)
	r.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func (r *Registry) handleGetAddresses(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	snapshot := make(map[string]*wire.Signed[AddressUpdate], len(r.addresses))
	for name, signed := range r.addresses {
		snapshot[name] = signed
	}
	r.mu.RUnlock()

	json.NewEncoder(w).Encode(snapshot)
}

func (r *Registry) handleGetAddress(w http.ResponseWriter, req *http.Request) {
	name := chi.URLParam(req, "name")

	r.mu.RLock()
	signed, ok := r.addresses[name]
	r.mu.RUnlock()

	if !ok {
		http.Error(w, "unknown name", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(signed)
}

// Resolve returns the current address for a name, or the zero key when
// the name is unknown. Lets a Registry serve in-process as the sale
// engine's AddressLookup.
func (r *Registry) Resolve(name string) (crypto.PublicKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	signed, ok := r.addresses[name]
	if !ok {
		return nil, fmt.Errorf("unknown name %q", name)
	}
	return signed.Object.Address, nil
}
