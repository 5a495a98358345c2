// Package directory loads users, roles, permissions and OAuth clients
// from a YAML file and answers lookups and credential checks against it.
// The file is re-read when it changes on disk.
package directory

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	apperrors "github.com/alexjbarnes/authcore/internal/errors"
	"github.com/alexjbarnes/authcore/internal/models"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

type fileFormat struct {
	Permissions []permissionEntry `yaml:"permissions"`
	Roles       []roleEntry       `yaml:"roles"`
	Users       []userEntry       `yaml:"users"`
	Clients     []models.Client   `yaml:"clients"`
}

type permissionEntry struct {
	ID       string `yaml:"id"`
	Resource string `yaml:"resource"`
	Action   string `yaml:"action"`
	Type     string `yaml:"type"`
	Scope    string `yaml:"scope"`
}

type roleEntry struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type userEntry struct {
	ID             string   `yaml:"id"`
	Username       string   `yaml:"username"`
	Name           string   `yaml:"name"`
	Email          string   `yaml:"email"`
	OrganizationID string   `yaml:"organization_id"`
	PasswordHash   string   `yaml:"password_hash"`
	Enabled        *bool    `yaml:"enabled"`
	Roles          []string `yaml:"roles"`
}

// snapshot is an immutable view of one successfully parsed file.
type snapshot struct {
	users      map[string]*models.User // id -> user
	byUsername map[string]*models.User // normalized username -> user
	clients    map[string]*models.Client
}

// Directory serves lookups from the most recent valid snapshot.
type Directory struct {
	path   string
	logger *slog.Logger

	mu   sync.RWMutex
	snap *snapshot
}

// Load reads and validates the directory file at path.
func Load(path string, logger *slog.Logger) (*Directory, error) {
	d := &Directory{path: path, logger: logger}
	if err := d.Reload(); err != nil {
		return nil, err
	}

	return d, nil
}

// Parse builds a Directory from YAML bytes. The result has no backing
// file and Reload is a no-op.
func Parse(data []byte, logger *slog.Logger) (*Directory, error) {
	snap, err := parse(data)
	if err != nil {
		return nil, err
	}

	return &Directory{logger: logger, snap: snap}, nil
}

// Reload re-reads the backing file. On error the previous snapshot stays
// in service.
func (d *Directory) Reload() error {
	if d.path == "" {
		return nil
	}

	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("reading directory file: %w", err)
	}

	snap, err := parse(data)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", d.path, err)
	}

	d.mu.Lock()
	d.snap = snap
	d.mu.Unlock()

	d.logger.Info("directory loaded",
		slog.String("path", d.path),
		slog.Int("users", len(snap.users)),
		slog.Int("clients", len(snap.clients)),
	)

	return nil
}

func (d *Directory) current() *snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.snap
}

// NormalizeUsername folds case and applies NFKC so visually identical
// names compare equal.
func NormalizeUsername(username string) string {
	return cases.Fold().String(norm.NFKC.String(strings.TrimSpace(username)))
}

func parse(data []byte) (*snapshot, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding yaml: %w", err)
	}

	perms := make(map[string]*models.Permission, len(f.Permissions))

	for _, p := range f.Permissions {
		if p.ID == "" {
			return nil, fmt.Errorf("permission with empty id")
		}

		if _, dup := perms[p.ID]; dup {
			return nil, fmt.Errorf("duplicate permission id %q", p.ID)
		}

		typ := models.PermissionType(strings.ToUpper(p.Type))
		switch typ {
		case models.PermissionAPI, models.PermissionUI, models.PermissionOAuth2:
		default:
			return nil, fmt.Errorf("permission %q has unknown type %q", p.ID, p.Type)
		}

		perms[p.ID] = &models.Permission{
			ID:       p.ID,
			Resource: p.Resource,
			Action:   p.Action,
			Type:     typ,
			Scope:    p.Scope,
		}
	}

	roles := make(map[string]*models.Role, len(f.Roles))

	for _, r := range f.Roles {
		if r.ID == "" {
			return nil, fmt.Errorf("role with empty id")
		}

		if _, dup := roles[r.ID]; dup {
			return nil, fmt.Errorf("duplicate role id %q", r.ID)
		}

		role := &models.Role{ID: r.ID, Name: r.Name}
		if role.Name == "" {
			role.Name = r.ID
		}

		for _, pid := range r.Permissions {
			p, ok := perms[pid]
			if !ok {
				return nil, fmt.Errorf("role %q references unknown permission %q", r.ID, pid)
			}

			role.Permissions = append(role.Permissions, p)
		}

		roles[r.ID] = role
	}

	snap := &snapshot{
		users:      make(map[string]*models.User, len(f.Users)),
		byUsername: make(map[string]*models.User, len(f.Users)),
		clients:    make(map[string]*models.Client, len(f.Clients)),
	}

	for _, u := range f.Users {
		if u.ID == "" || u.Username == "" {
			return nil, fmt.Errorf("user entries require id and username")
		}

		if _, dup := snap.users[u.ID]; dup {
			return nil, fmt.Errorf("duplicate user id %q", u.ID)
		}

		key := NormalizeUsername(u.Username)
		if _, dup := snap.byUsername[key]; dup {
			return nil, fmt.Errorf("duplicate username %q", u.Username)
		}

		if u.PasswordHash != "" {
			if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
				return nil, fmt.Errorf("user %q: password_hash is not a bcrypt hash", u.ID)
			}
		}

		user := &models.User{
			ID:             u.ID,
			Username:       u.Username,
			Name:           u.Name,
			Email:          u.Email,
			OrganizationID: u.OrganizationID,
			PasswordHash:   u.PasswordHash,
			Enabled:        u.Enabled == nil || *u.Enabled,
		}

		for _, rid := range u.Roles {
			r, ok := roles[rid]
			if !ok {
				return nil, fmt.Errorf("user %q references unknown role %q", u.ID, rid)
			}

			user.Roles = append(user.Roles, r)
		}

		snap.users[u.ID] = user
		snap.byUsername[key] = user
	}

	for i := range f.Clients {
		c := f.Clients[i]
		if c.ClientID == "" {
			return nil, fmt.Errorf("client with empty client_id")
		}

		if _, dup := snap.clients[c.ClientID]; dup {
			return nil, fmt.Errorf("duplicate client_id %q", c.ClientID)
		}

		if len(c.RedirectURIs) == 0 {
			return nil, fmt.Errorf("client %q has no redirect_uris", c.ClientID)
		}

		if c.SecretHash != "" {
			if _, err := bcrypt.Cost([]byte(c.SecretHash)); err != nil {
				return nil, fmt.Errorf("client %q: secret_hash is not a bcrypt hash", c.ClientID)
			}
		}

		snap.clients[c.ClientID] = &c
	}

	return snap, nil
}

// User returns the user with id, or nil.
func (d *Directory) User(id string) *models.User {
	return d.current().users[id]
}

// UserByUsername returns the user with the given username, or nil.
func (d *Directory) UserByUsername(username string) *models.User {
	return d.current().byUsername[NormalizeUsername(username)]
}

// Client returns the client with id, or nil.
func (d *Directory) Client(id string) *models.Client {
	return d.current().clients[id]
}

// Scopes returns the sorted union of all client scopes.
func (d *Directory) Scopes() []string {
	var all []string
	for _, c := range d.current().clients {
		all = append(all, c.Scopes...)
	}

	slices.Sort(all)

	return slices.Compact(all)
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// burnBcrypt spends roughly the time of a real comparison so unknown
// names are not distinguishable by latency.
func burnBcrypt(secret string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("\x00invalid"), bcrypt.DefaultCost)
	})

	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(secret))
}

// Authenticate checks a username and password. Unknown users, disabled
// users, users without a password and wrong passwords all fail with
// ErrAuthenticationFailed.
func (d *Directory) Authenticate(username, password string) (*models.User, error) {
	u := d.UserByUsername(username)
	if u == nil || u.PasswordHash == "" {
		burnBcrypt(password)
		return nil, apperrors.ErrAuthenticationFailed
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, apperrors.ErrAuthenticationFailed
	}

	if !u.Enabled {
		return nil, apperrors.ErrAuthenticationFailed
	}

	return u, nil
}

// AuthenticateClient checks a client_id and client_secret.
func (d *Directory) AuthenticateClient(clientID, secret string) (*models.Client, error) {
	c := d.Client(clientID)
	if c == nil || c.SecretHash == "" {
		burnBcrypt(secret)
		return nil, apperrors.ErrInvalidClientCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(c.SecretHash), []byte(secret)); err != nil {
		return nil, apperrors.ErrInvalidClientCredentials
	}

	return c, nil
}
