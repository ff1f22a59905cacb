// Package registry holds the participant directory: HIP/HIU endpoints,
// patient decision keys, and per-caller capability sets. Lookups are
// read-mostly; entries load from configuration and may be replaced at
// runtime for tests.
package registry

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/medgrid/exchange-engine/internal/config"
	"github.com/medgrid/exchange-engine/internal/serviceerror"
)

// Capability names an operation class a caller may perform
type Capability string

const (
	CapabilityView   Capability = "view"
	CapabilityDecide Capability = "decide"
	CapabilityRevoke Capability = "revoke"
	CapabilityAudit  Capability = "audit"
)

// Participant is one registered HIP or HIU
type Participant struct {
	ID           string
	Roles        []string
	CallbackURL  string
	NotifyURL    string
	PublicKey    ed25519.PublicKey
	Capabilities map[Capability]bool
}

// HasRole reports whether the participant carries the given role
func (p *Participant) HasRole(role string) bool {
	for _, r := range p.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// Patient is one registered patient identity
type Patient struct {
	ID        string
	PublicKey ed25519.PublicKey
	NotifyURL string
}

// Registry resolves participants, patients, and capabilities
type Registry struct {
	mu           sync.RWMutex
	participants map[string]*Participant
	patients     map[string]*Patient
}

// New builds a registry from configuration
func New(cfg *config.RegistryConfig) (*Registry, error) {
	r := &Registry{
		participants: make(map[string]*Participant),
		patients:     make(map[string]*Patient),
	}

	for _, pc := range cfg.Participants {
		p := &Participant{
			ID:           pc.ID,
			Roles:        splitRoles(pc.Role),
			CallbackURL:  pc.CallbackURL,
			NotifyURL:    pc.NotifyURL,
			Capabilities: make(map[Capability]bool),
		}
		if pc.PublicKey != "" {
			key, err := decodeKey(pc.PublicKey)
			if err != nil {
				return nil, fmt.Errorf("participant %s: %w", pc.ID, err)
			}
			p.PublicKey = key
		}
		for _, c := range pc.Capabilities {
			p.Capabilities[Capability(strings.ToLower(c))] = true
		}
		r.participants[pc.ID] = p
	}

	for _, pc := range cfg.Patients {
		key, err := decodeKey(pc.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("patient %s: %w", pc.ID, err)
		}
		r.patients[pc.ID] = &Patient{ID: pc.ID, PublicKey: key, NotifyURL: pc.NotifyURL}
	}

	return r, nil
}

func splitRoles(role string) []string {
	parts := strings.Split(role, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func decodeKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key length: %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// Participant resolves a participant by ID
func (r *Registry) Participant(id string) (*Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.participants[id]; ok {
		return p, nil
	}
	return nil, serviceerror.Wrap(serviceerror.ErrNotFound, "participant %s", id)
}

// Patient resolves a patient by ID
func (r *Registry) Patient(id string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.patients[id]; ok {
		return p, nil
	}
	return nil, serviceerror.Wrap(serviceerror.ErrNotFound, "patient %s", id)
}

// RegisterParticipant adds or replaces a participant entry
func (r *Registry) RegisterParticipant(p *Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants[p.ID] = p
}

// RegisterPatient adds or replaces a patient entry
func (r *Registry) RegisterPatient(p *Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[p.ID] = p
}

// Authorize checks the caller's capability set at an operation's entry.
// Returns serviceerror.ErrForbidden when the capability is missing.
func (r *Registry) Authorize(callerID string, capability Capability) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[callerID]
	if !ok {
		return serviceerror.Wrap(serviceerror.ErrForbidden, "unknown caller %s", callerID)
	}
	if !p.Capabilities[capability] {
		return serviceerror.Wrap(serviceerror.ErrForbidden, "caller %s lacks %s", callerID, capability)
	}
	return nil
}

// NotifyTargets returns the listener URLs interested in a subject's events:
// the patient app plus the named participants. Empty URLs are skipped.
func (r *Registry) NotifyTargets(patientID string, participantIDs ...string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var urls []string
	if p, ok := r.patients[patientID]; ok && p.NotifyURL != "" {
		urls = append(urls, p.NotifyURL)
	}
	for _, id := range participantIDs {
		if p, ok := r.participants[id]; ok && p.NotifyURL != "" {
			urls = append(urls, p.NotifyURL)
		}
	}
	return urls
}
