package keys

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio"
)

// KeyStore keeps seeds on the local filesystem.
//
// Layout under Dir:
//
//	<name>/root.key          "<alg>:<hex>" seed
//	<name>/roles/<role>.key  seed derived from root.key
//
// Role keys let one identity own many lists and domains without sharing a
// signing key between them.
type KeyStore struct {
	Dir string
}

// KeyEntry describes one stored identity.
type KeyEntry struct {
	Name      string
	Algorithm Algorithm
	Roles     []string
}

// SignerSpec selects a signing key. The first non-empty of SeedHex, KeyFile
// and Name wins; Role applies to Name only.
type SignerSpec struct {
	SeedHex string
	KeyFile string
	Name    string
	Role    string
}

// ErrNoSigner is returned by Signer when no key source is set.
var ErrNoSigner = errors.New("keys: no signer provided")

func DefaultDirectory() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".dweb", "keys"), nil
}

// OpenKeyStore returns the store rooted at dir, or at DefaultDirectory when
// dir is empty. Nothing is created until a key is written.
func OpenKeyStore(dir string) (*KeyStore, error) {
	if dir == "" {
		var err error
		if dir, err = DefaultDirectory(); err != nil {
			return nil, err
		}
	}
	return &KeyStore{Dir: dir}, nil
}

func checkIdent(kind, s string) error {
	if s == "" {
		return fmt.Errorf("keys: %s cannot be empty", kind)
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return fmt.Errorf("keys: invalid character %q in %s", c, kind)
		}
	}
	return nil
}

// CheckName reports whether name may be used as a key name.
func CheckName(name string) error { return checkIdent("name", name) }

// CheckRole reports whether role may be used as a role name.
func CheckRole(role string) error { return checkIdent("role", role) }

func (ks *KeyStore) path(name, role string) string {
	if role == "" {
		return filepath.Join(ks.Dir, name, "root.key")
	}
	return filepath.Join(ks.Dir, name, "roles", role+".key")
}

func (ks *KeyStore) write(path string, s Seed, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("keys: %s: %w", path, fs.ErrExist)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return renameio.WriteFile(path, []byte(s.String()+"\n"), 0o600)
}

func readSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, err
	}
	return ParseSeed(string(data))
}

// Init stores seed as the root key of name and returns its public key.
func (ks *KeyStore) Init(name string, seed Seed, overwrite bool) (pub string, path string, err error) {
	if err := CheckName(name); err != nil {
		return "", "", err
	}
	if pub, err = seed.PublicKey(); err != nil {
		return "", "", err
	}
	path = ks.path(name, "")
	if err := ks.write(path, seed, overwrite); err != nil {
		return "", "", err
	}
	return pub, path, nil
}

// Derive stores the role key derived from the root key of name.
func (ks *KeyStore) Derive(name, role string, overwrite bool) (pub string, path string, err error) {
	root, err := ks.Load(name, "")
	if err != nil {
		return "", "", err
	}
	seed, err := root.Derive(role)
	if err != nil {
		return "", "", err
	}
	if pub, err = seed.PublicKey(); err != nil {
		return "", "", err
	}
	path = ks.path(name, role)
	if err := ks.write(path, seed, overwrite); err != nil {
		return "", "", err
	}
	return pub, path, nil
}

// Load reads the root seed of name, or its role seed when role is set.
func (ks *KeyStore) Load(name, role string) (Seed, error) {
	if err := CheckName(name); err != nil {
		return Seed{}, err
	}
	if role != "" {
		if err := CheckRole(role); err != nil {
			return Seed{}, err
		}
	}
	return readSeed(ks.path(name, role))
}

func (ks *KeyStore) KeyPair(name, role string) (*KeyPair, error) {
	s, err := ks.Load(name, role)
	if err != nil {
		return nil, err
	}
	return s.KeyPair()
}

func (ks *KeyStore) PublicKey(name, role string) (string, error) {
	s, err := ks.Load(name, role)
	if err != nil {
		return "", err
	}
	return s.PublicKey()
}

// Signer resolves a SignerSpec to a key pair able to sign.
func (ks *KeyStore) Signer(spec SignerSpec) (*KeyPair, error) {
	var (
		s   Seed
		err error
	)
	switch {
	case spec.SeedHex != "":
		s, err = ParseSeed(spec.SeedHex)
	case spec.KeyFile != "":
		s, err = readSeed(spec.KeyFile)
	case spec.Name != "":
		s, err = ks.Load(spec.Name, spec.Role)
	default:
		return nil, ErrNoSigner
	}
	if err != nil {
		return nil, err
	}
	return s.KeyPair()
}

// List returns every identity with a root key, sorted by name.
func (ks *KeyStore) List() ([]KeyEntry, error) {
	dirs, err := os.ReadDir(ks.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []KeyEntry
	for _, d := range dirs {
		if !d.IsDir() || CheckName(d.Name()) != nil {
			continue
		}
		root, err := readSeed(ks.path(d.Name(), ""))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("keys: %s: %w", d.Name(), err)
		}
		e := KeyEntry{Name: d.Name(), Algorithm: root.Algorithm}
		files, _ := os.ReadDir(filepath.Join(ks.Dir, d.Name(), "roles"))
		for _, f := range files {
			if role, ok := strings.CutSuffix(f.Name(), ".key"); ok && !f.IsDir() {
				e.Roles = append(e.Roles, role)
			}
		}
		sort.Strings(e.Roles)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
