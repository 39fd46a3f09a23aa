package vault

import (
	"encoding/json"
	"fmt"

	kerrors "github.com/illarion/passync/internal/errors"
)

const (
	docKeyKey     = "key"
	docKeyData    = "data"
	docKeyServers = "servers"
)

// Document is the at-rest form of a user's vault:
//
//	{ <username>: <wrapped password>, "key": <wrapped user key>,
//	  "servers": {title: {server_address, server_port}},
//	  "data": {service: {username: {password, key, last-refresh}}} }
//
// Documents kept by a server carry no login fields.
type Document struct {
	User     string
	Password string // login password wrapped under the user key
	UserKey  string // user key wrapped under the master key
	Vault    *Vault
}

// NewDocument returns an empty document for user.
func NewDocument(user string) *Document {
	return &Document{User: user, Vault: New()}
}

// HasLogin reports whether the document carries login material.
func (d *Document) HasLogin() bool {
	return d.User != "" && d.Password != "" && d.UserKey != ""
}

func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 4)
	if d.HasLogin() {
		out[d.User] = d.Password
		out[docKeyKey] = d.UserKey
	}
	v := d.Vault
	if v == nil {
		v = New()
	}
	data := v.Data
	if data == nil {
		data = Services{}
	}
	servers := v.Servers
	if servers == nil {
		servers = map[string]Endpoint{}
	}
	out[docKeyData] = data
	out[docKeyServers] = servers
	return json.Marshal(out)
}

func (d *Document) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("%w: %v", kerrors.ErrCorruptVault, err)
	}

	doc := Document{Vault: New()}
	for k, v := range raw {
		switch k {
		case docKeyData:
			if err := json.Unmarshal(v, &doc.Vault.Data); err != nil {
				return fmt.Errorf("%w: data: %v", kerrors.ErrCorruptVault, err)
			}
		case docKeyServers:
			if err := json.Unmarshal(v, &doc.Vault.Servers); err != nil {
				return fmt.Errorf("%w: servers: %v", kerrors.ErrCorruptVault, err)
			}
		case docKeyKey:
			if err := json.Unmarshal(v, &doc.UserKey); err != nil {
				return fmt.Errorf("%w: key: %v", kerrors.ErrCorruptVault, err)
			}
		default:
			if doc.User != "" {
				return fmt.Errorf("%w: unexpected field %q", kerrors.ErrCorruptVault, k)
			}
			doc.User = k
			if err := json.Unmarshal(v, &doc.Password); err != nil {
				return fmt.Errorf("%w: login: %v", kerrors.ErrCorruptVault, err)
			}
		}
	}
	if doc.Vault.Data == nil {
		doc.Vault.Data = make(Services)
	}
	if doc.Vault.Servers == nil {
		doc.Vault.Servers = make(map[string]Endpoint)
	}
	doc.Vault.Prune()

	*d = doc
	return nil
}
