package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// Profile bundles the preprocessing, recognition and cleaning settings
// applied to one OCR job.
type Profile struct {
	ID         string            `toml:"-" json:"id"`
	Profile    ProfileInfo       `toml:"profile" json:"profile"`
	Preprocess ProfilePreprocess `toml:"preprocess" json:"preprocess"`
	OCR        ProfileOCR        `toml:"ocr" json:"ocr"`
	Cleaning   ProfileCleaning   `toml:"cleaning" json:"cleaning"`
	Output     ProfileOutput     `toml:"output" json:"output"`
}

type ProfileInfo struct {
	Name        string `toml:"name" json:"name"`
	Description string `toml:"description" json:"description"`
}

type ProfilePreprocess struct {
	Enabled        bool    `toml:"enabled" json:"enabled"`
	Contrast       float64 `toml:"contrast" json:"contrast,omitempty"`
	WhiteCutoff    *int    `toml:"white_cutoff,omitempty" json:"white_cutoff,omitempty"`
	BlackCutoff    *int    `toml:"black_cutoff,omitempty" json:"black_cutoff,omitempty"`
	SkipBlank      bool    `toml:"skip_blank" json:"skip_blank"`
	BlankThreshold float64 `toml:"blank_threshold" json:"blank_threshold,omitempty"`
}

type ProfileOCR struct {
	Language    string `toml:"language" json:"language,omitempty"`
	PageSegMode int    `toml:"page_seg_mode" json:"page_seg_mode,omitempty"`
}

// ProfileCleaning tunes the line classifier. Unset (nil) values use the
// built-in thresholds; zero is a real setting.
type ProfileCleaning struct {
	Enabled          bool     `toml:"enabled" json:"enabled"`
	ShortWordRatio   *float64 `toml:"short_word_ratio,omitempty" json:"short_word_ratio,omitempty"`
	AlphaRatio       *float64 `toml:"alpha_ratio,omitempty" json:"alpha_ratio,omitempty"`
	MinAvgWordLength *float64 `toml:"min_avg_word_length,omitempty" json:"min_avg_word_length,omitempty"`
}

type ProfileOutput struct {
	DefaultTarget string `toml:"default_target" json:"default_target,omitempty"`
}

// Ptr returns a pointer to v, for the optional profile settings.
func Ptr[T any](v T) *T {
	return &v
}

// clone returns a copy that shares no optional settings with p.
func (p *Profile) clone() *Profile {
	cp := *p
	cp.Preprocess.WhiteCutoff = clonePtr(p.Preprocess.WhiteCutoff)
	cp.Preprocess.BlackCutoff = clonePtr(p.Preprocess.BlackCutoff)
	cp.Cleaning.ShortWordRatio = clonePtr(p.Cleaning.ShortWordRatio)
	cp.Cleaning.AlphaRatio = clonePtr(p.Cleaning.AlphaRatio)
	cp.Cleaning.MinAvgWordLength = clonePtr(p.Cleaning.MinAvgWordLength)
	return &cp
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	return Ptr(*v)
}

var profileIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Validate checks that the profile's values are in range.
func (p *Profile) Validate() error {
	if p.Preprocess.Contrast < 0 {
		return fmt.Errorf("contrast must not be negative")
	}
	for name, v := range map[string]*int{
		"white_cutoff": p.Preprocess.WhiteCutoff,
		"black_cutoff": p.Preprocess.BlackCutoff,
	} {
		if v != nil && (*v < 0 || *v > 255) {
			return fmt.Errorf("%s must be within 0-255", name)
		}
	}
	if p.Preprocess.BlankThreshold < 0 || p.Preprocess.BlankThreshold > 1 {
		return fmt.Errorf("blank_threshold must be within 0-1")
	}
	for name, v := range map[string]*float64{
		"short_word_ratio": p.Cleaning.ShortWordRatio,
		"alpha_ratio":      p.Cleaning.AlphaRatio,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be within 0-1", name)
		}
	}
	if v := p.Cleaning.MinAvgWordLength; v != nil && *v < 0 {
		return fmt.Errorf("min_avg_word_length must not be negative")
	}
	return nil
}

// ProfileStore manages cleaning profiles: built-ins plus TOML files from a
// directory. It is safe for concurrent use.
type ProfileStore struct {
	dir      string
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewProfileStore creates a new profile store and loads profiles from the given directory.
func NewProfileStore(dir string) (*ProfileStore, error) {
	store := &ProfileStore{
		dir:      dir,
		profiles: make(map[string]*Profile),
	}

	store.profiles["standard"] = defaultStandardProfile()
	store.profiles["strict"] = defaultStrictProfile()
	store.profiles["raw"] = defaultRawProfile()

	if dir != "" {
		if err := store.loadFromDirectory(dir); err != nil {
			return nil, err
		}
	}

	return store, nil
}

// Get returns a copy of the profile with the given ID.
func (s *ProfileStore) Get(id string) (*Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// List returns all profiles sorted by ID.
func (s *ProfileStore) List() []Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		result = append(result, *p.clone())
	}
	slices.SortFunc(result, func(a, b Profile) int {
		return strings.Compare(a.ID, b.ID)
	})
	return result
}

// Set adds or updates a profile. When the store has a directory the profile
// is also written to <dir>/<id>.toml.
func (s *ProfileStore) Set(id string, p *Profile) error {
	if !profileIDPattern.MatchString(id) {
		return fmt.Errorf("invalid profile id %q", id)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("profile %s: %w", id, err)
	}

	cp := p.clone()
	cp.ID = id

	if s.dir != "" {
		if err := writeProfile(s.dir, cp); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.profiles[id] = cp
	s.mu.Unlock()
	return nil
}

func writeProfile(dir string, p *Profile) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create profiles directory: %w", err)
	}
	data, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile %s: %w", p.ID, err)
	}
	if err := os.WriteFile(filepath.Join(dir, p.ID+".toml"), data, 0o644); err != nil {
		return fmt.Errorf("write profile %s: %w", p.ID, err)
	}
	return nil
}

func (s *ProfileStore) loadFromDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read profiles directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read profile %s: %w", entry.Name(), err)
		}

		// Files override the standard profile, so a file only needs the
		// keys it changes.
		profile := defaultStandardProfile()
		if err := toml.Unmarshal(data, profile); err != nil {
			return fmt.Errorf("parse profile %s: %w", entry.Name(), err)
		}
		if err := profile.Validate(); err != nil {
			return fmt.Errorf("profile %s: %w", entry.Name(), err)
		}

		profile.ID = strings.TrimSuffix(entry.Name(), ".toml")
		s.profiles[profile.ID] = profile
	}

	return nil
}

func defaultStandardProfile() *Profile {
	return &Profile{
		ID: "standard",
		Profile: ProfileInfo{
			Name:        "Standard",
			Description: "Contrast normalization and artifact cleaning for phone photos of printed pages",
		},
		Preprocess: ProfilePreprocess{
			Enabled:        true,
			SkipBlank:      true,
			BlankThreshold: 0.99,
		},
		OCR: ProfileOCR{
			PageSegMode: 3,
		},
		Cleaning: ProfileCleaning{
			Enabled: true,
		},
	}
}

func defaultStrictProfile() *Profile {
	return &Profile{
		ID: "strict",
		Profile: ProfileInfo{
			Name:        "Strict",
			Description: "Harder contrast and more aggressive line filtering for heavily degraded pages",
		},
		Preprocess: ProfilePreprocess{
			Enabled:        true,
			Contrast:       1.8,
			WhiteCutoff:    Ptr(190),
			BlackCutoff:    Ptr(110),
			SkipBlank:      true,
			BlankThreshold: 0.99,
		},
		OCR: ProfileOCR{
			PageSegMode: 6,
		},
		Cleaning: ProfileCleaning{
			Enabled:          true,
			ShortWordRatio:   Ptr(0.5),
			AlphaRatio:       Ptr(0.6),
			MinAvgWordLength: Ptr(3.0),
		},
	}
}

func defaultRawProfile() *Profile {
	return &Profile{
		ID: "raw",
		Profile: ProfileInfo{
			Name:        "Raw",
			Description: "Recognition of the unmodified image without text cleaning",
		},
		OCR: ProfileOCR{
			PageSegMode: 3,
		},
	}
}
