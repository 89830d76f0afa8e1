package keys

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const keeperFormatVersion = 1

var (
	// ErrWrongPasscode is returned when an account file cannot be opened with
	// the supplied passcode.
	ErrWrongPasscode = errors.New("keys: wrong passcode or corrupted account")
	// ErrAccountExists is returned by Create when the alias is taken.
	ErrAccountExists = errors.New("keys: account already exists")
)

// Account is the decrypted content of a keeper entry.
type Account struct {
	Alias    string `json:"alias"`
	Scheme   Scheme `json:"scheme"`
	RootSeed []byte `json:"root_seed"`
	// Index is the position of the current signing key in the derivation
	// sequence. The pre-rotated next key sits at Index+1.
	Index uint32 `json:"index"`
	// Prefix is the identifier incepted with this account, once known.
	Prefix string `json:"prefix,omitempty"`
}

// Current returns the signer for the active key.
func (a *Account) Current() (Signer, error) {
	return SignerAt(a.Scheme, a.RootSeed, a.Index)
}

// Next returns the signer for the pre-rotated key.
func (a *Account) Next() (Signer, error) {
	return SignerAt(a.Scheme, a.RootSeed, a.Index+1)
}

// Keeper stores accounts on the local filesystem, one encrypted file per alias.
//
// EXPERIMENTAL: the on-disk layout may change in minor releases.
type Keeper struct {
	Directory string
	// ScryptN overrides the scrypt cost parameter. Zero selects 1<<15.
	ScryptN int
}

type envelope struct {
	V      int    `json:"v"`
	Salt   []byte `json:"salt"`
	N      int    `json:"scrypt_N"`
	R      int    `json:"scrypt_r"`
	P      int    `json:"scrypt_p"`
	Cipher []byte `json:"cipher"`
}

// DefaultKeeperDirectory returns ~/.xdao/kel/keys.
func DefaultKeeperDirectory() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".xdao", "kel", "keys"), nil
}

// OpenKeeper returns a Keeper rooted at directory, or the default directory
// when empty.
func OpenKeeper(directory string) (*Keeper, error) {
	if directory == "" {
		var err error
		directory, err = DefaultKeeperDirectory()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return nil, err
	}
	return &Keeper{Directory: directory}, nil
}

// CheckAlias validates an account alias.
func CheckAlias(alias string) error {
	if alias == "" {
		return errors.New("keys: alias cannot be empty")
	}
	for _, c := range alias {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_' {
			continue
		}
		return fmt.Errorf("keys: invalid character %q in alias", c)
	}
	return nil
}

func (k *Keeper) path(alias string) string {
	return filepath.Join(k.Directory, alias+".json")
}

// Create stores a new account. A nil rootSeed is replaced with random bytes.
func (k *Keeper) Create(alias string, scheme Scheme, rootSeed []byte, passcode string) (*Account, error) {
	if err := CheckAlias(alias); err != nil {
		return nil, err
	}
	if scheme == "" {
		scheme = Ed25519
	}
	if rootSeed == nil {
		rootSeed = make([]byte, SeedSize)
		if _, err := rand.Read(rootSeed); err != nil {
			return nil, err
		}
	}
	if len(rootSeed) != SeedSize {
		return nil, fmt.Errorf("keys: root seed must be %d bytes", SeedSize)
	}
	if _, err := os.Stat(k.path(alias)); err == nil {
		return nil, ErrAccountExists
	}
	acct := &Account{Alias: alias, Scheme: scheme, RootSeed: rootSeed}
	if err := k.Save(acct, passcode); err != nil {
		return nil, err
	}
	return acct, nil
}

// Load decrypts the account stored under alias.
func (k *Keeper) Load(alias, passcode string) (*Account, error) {
	if err := CheckAlias(alias); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(k.path(alias))
	if err != nil {
		return nil, err
	}
	pt, err := k.open(passcode, b)
	if err != nil {
		return nil, err
	}
	var acct Account
	if err := json.Unmarshal(pt, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// Save encrypts acct and atomically replaces its file.
func (k *Keeper) Save(acct *Account, passcode string) error {
	if err := CheckAlias(acct.Alias); err != nil {
		return err
	}
	pt, err := json.Marshal(acct)
	if err != nil {
		return err
	}
	b, err := k.seal(passcode, pt)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(k.Directory, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(k.Directory, "."+acct.Alias+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, k.path(acct.Alias))
}

// Aliases lists stored accounts in sorted order.
func (k *Keeper) Aliases() ([]string, error) {
	entries, err := os.ReadDir(k.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		out = append(out, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(out)
	return out, nil
}

func (k *Keeper) scryptN() int {
	if k.ScryptN > 0 {
		return k.ScryptN
	}
	return 1 << 15
}

func (k *Keeper) seal(passcode string, raw []byte) ([]byte, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	n, r, p := k.scryptN(), 8, 1
	key, err := scrypt.Key([]byte(passcode), salt[:], n, r, p, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	// The key is bound to a fresh salt, so a fixed nonce is never reused.
	var nonce [chacha20poly1305.NonceSize]byte
	ct := aead.Seal(nil, nonce[:], raw, salt[:])
	return json.Marshal(envelope{V: keeperFormatVersion, Salt: salt[:], N: n, R: r, P: p, Cipher: ct})
}

func (k *Keeper) open(passcode string, b []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	if env.V > keeperFormatVersion {
		return nil, fmt.Errorf("keys: unsupported keeper format %d", env.V)
	}
	key, err := scrypt.Key([]byte(passcode), env.Salt, env.N, env.R, env.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	pt, err := aead.Open(nil, nonce[:], env.Cipher, env.Salt)
	if err != nil {
		return nil, ErrWrongPasscode
	}
	return pt, nil
}
