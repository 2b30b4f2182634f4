package principal

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/atelierhq/atelier/internal/apperr"
	"github.com/atelierhq/atelier/internal/authz"
	"github.com/atelierhq/atelier/internal/docstore"
)

const bcryptCost = 8

// Store loads and persists principals and roles. Roles are reloaded on
// every lookup; there is no cross-request cache.
type Store struct {
	db docstore.Store
}

func NewStore(db docstore.Store) *Store {
	return &Store{db: db}
}

// FindByID loads a principal and populates its role reference.
func (s *Store) FindByID(ctx context.Context, kind Kind, id string) (*Principal, error) {
	doc, err := s.db.Collection(kind.Collection()).FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.populate(ctx, kind, doc)
}

// FindByEmail loads a principal by email, role populated.
func (s *Store) FindByEmail(ctx context.Context, kind Kind, email string) (*Principal, error) {
	doc, err := s.db.Collection(kind.Collection()).FindOne(ctx, docstore.Filter{}.Where("email", email))
	if err != nil {
		return nil, err
	}
	return s.populate(ctx, kind, doc)
}

// FindByCredentials authenticates an email/password pair. A missing
// account, a passwordless account, and a wrong password are all the
// same incorrect_credentials failure.
func (s *Store) FindByCredentials(ctx context.Context, kind Kind, email, password string) (*Principal, error) {
	p, err := s.FindByEmail(ctx, kind, email)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, incorrectCredentials()
		}
		return nil, err
	}
	hash, _ := p.Doc["password"].(string)
	if hash == "" {
		return nil, incorrectCredentials()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, incorrectCredentials()
	}
	return p, nil
}

// Create inserts a new principal document, hashing any plaintext
// password before it reaches the store.
func (s *Store) Create(ctx context.Context, kind Kind, doc docstore.Document) (*Principal, error) {
	if err := hashPassword(doc); err != nil {
		return nil, err
	}
	stored, err := s.db.Collection(kind.Collection()).Insert(ctx, doc)
	if err != nil {
		return nil, err
	}
	return s.populate(ctx, kind, stored)
}

// Save persists the principal's mutable fields back to the store.
func (s *Store) Save(ctx context.Context, p *Principal) error {
	changes := docstore.Document{}
	for _, field := range []string{"access", "status", "details", "email"} {
		if v, ok := p.Doc[field]; ok {
			changes[field] = v
		}
	}
	updated, err := s.db.Collection(p.Kind.Collection()).Update(ctx, p.ID(), changes)
	if err != nil {
		return err
	}
	role := p.Role
	p.Doc = updated
	p.Role = role
	return nil
}

// UpdatePassword hashes and persists a new password.
func (s *Store) UpdatePassword(ctx context.Context, p *Principal, plain string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcryptCost)
	if err != nil {
		return err
	}
	updated, err := s.db.Collection(p.Kind.Collection()).Update(ctx, p.ID(), docstore.Document{"password": string(hash)})
	if err != nil {
		return err
	}
	role := p.Role
	p.Doc = updated
	p.Role = role
	return nil
}

// RoleByID loads one role record.
func (s *Store) RoleByID(ctx context.Context, id string) (*authz.Role, error) {
	doc, err := s.db.Collection("roles").FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return roleFromDoc(doc), nil
}

// RoleByName loads one role record by its unique name.
func (s *Store) RoleByName(ctx context.Context, name string) (*authz.Role, error) {
	doc, err := s.db.Collection("roles").FindOne(ctx, docstore.Filter{}.Where("name", name))
	if err != nil {
		return nil, err
	}
	return roleFromDoc(doc), nil
}

func (s *Store) populate(ctx context.Context, kind Kind, doc docstore.Document) (*Principal, error) {
	p := &Principal{Kind: kind, Doc: doc}
	roleID, _ := doc["role"].(string)
	if roleID == "" {
		return p, nil
	}
	role, err := s.RoleByID(ctx, roleID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return p, nil
		}
		return nil, err
	}
	p.Role = role
	return p, nil
}

func roleFromDoc(doc docstore.Document) *authz.Role {
	role := &authz.Role{ID: doc.ID()}
	role.Name, _ = doc["name"].(string)
	rules, _ := doc["access"].([]any)
	for _, entry := range rules {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		rule := authz.Rule{}
		rule.Path, _ = m["path"].(string)
		methods, _ := m["methods"].([]any)
		for _, method := range methods {
			if str, ok := method.(string); ok {
				rule.Methods = append(rule.Methods, str)
			}
		}
		role.Access = append(role.Access, rule)
	}
	return role
}

func hashPassword(doc docstore.Document) error {
	plain, ok := doc["password"].(string)
	if !ok || plain == "" {
		delete(doc, "password")
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcryptCost)
	if err != nil {
		return err
	}
	doc["password"] = string(hash)
	return nil
}

func incorrectCredentials() *apperr.Error {
	return apperr.New("incorrect_credentials", "Incorrect Credentials", http.StatusUnauthorized)
}
