package domain

import (
	"slices"
	"strings"
)

// KonnectorState is the installation state reported by the stack.
type KonnectorState string

const (
	KonnectorInstalling KonnectorState = "installing"
	KonnectorUpgrading  KonnectorState = "upgrading"
	KonnectorInstalled  KonnectorState = "installed"
	KonnectorReady      KonnectorState = "ready"
	KonnectorErrored    KonnectorState = "errored"
)

// IsSettled returns true once installation no longer makes progress by itself.
func (s KonnectorState) IsSettled() bool {
	return s == KonnectorInstalled || s == KonnectorReady || s == KonnectorErrored
}

// CategoryOthers is the fallback for konnectors with an unknown category.
const CategoryOthers = "others"

// DebugKonnectorSlug is hidden from the catalogue unless debug mode is on.
const DebugKonnectorSlug = "debug"

// Field describes one input of a konnector connection form.
type Field struct {
	Type     string `json:"type" yaml:"type"`
	Label    string `json:"label,omitempty" yaml:"label,omitempty"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Default  string `json:"default,omitempty" yaml:"default,omitempty"`
}

// Konnector is an installable integration for a third-party data source.
type Konnector struct {
	DocMeta

	// Slug uniquely identifies the konnector
	Slug string `json:"slug" yaml:"slug"`

	// Name is the human label
	Name string `json:"name" yaml:"name"`

	Category  string   `json:"category,omitempty" yaml:"category,omitempty"`
	DataTypes []string `json:"dataType,omitempty" yaml:"data_types,omitempty"`

	// Source is the repository reference used to install and fetch the manifest
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	Version          string `json:"version,omitempty" yaml:"-"`
	AvailableVersion string `json:"available_version,omitempty" yaml:"-"`

	State KonnectorState `json:"state,omitempty" yaml:"-"`
	Error string         `json:"error,omitempty" yaml:"-"`

	// TimeInterval bounds the trigger hour, as [start, end) in hours
	TimeInterval []int `json:"timeInterval,omitempty" yaml:"time_interval,omitempty"`

	Fields                   map[string]Field `json:"fields,omitempty" yaml:"fields,omitempty"`
	Icon                     string           `json:"icon,omitempty" yaml:"icon,omitempty"`
	OAuth                    bool             `json:"oauth,omitempty" yaml:"oauth,omitempty"`
	AdditionalSuccessMessage string           `json:"additionnalSuccessMessage,omitempty" yaml:"additional_success_message,omitempty"`
	HasDescriptions          bool             `json:"hasDescriptions,omitempty" yaml:"has_descriptions,omitempty"`

	// Maintenance marks konnectors temporarily disabled upstream
	Maintenance bool `json:"maintenance,omitempty" yaml:"maintenance,omitempty"`

	Accounts []*Account `json:"accounts,omitempty" yaml:"-"`
}

// Clone returns a copy that shares no slices with k.
func (k *Konnector) Clone() *Konnector {
	if k == nil {
		return nil
	}
	c := *k
	c.DataTypes = slices.Clone(k.DataTypes)
	c.TimeInterval = slices.Clone(k.TimeInterval)
	if k.Accounts != nil {
		c.Accounts = make([]*Account, len(k.Accounts))
		for i, a := range k.Accounts {
			c.Accounts[i] = a.Clone()
		}
	}
	return &c
}

// HasAccounts returns true if at least one account is attached.
func (k *Konnector) HasAccounts() bool {
	return len(k.Accounts) > 0
}

// AccountIndex returns the position of the account with the given id, or -1.
func (k *Konnector) AccountIndex(id string) int {
	return slices.IndexFunc(k.Accounts, func(a *Account) bool { return a.ID == id })
}

// AccountIDs lists the ids of the attached accounts.
func (k *Konnector) AccountIDs() []string {
	ids := make([]string, 0, len(k.Accounts))
	for _, a := range k.Accounts {
		ids = append(ids, a.ID)
	}
	return ids
}

// Merge overwrites k with the mutable fields of src.
// Identity and declarative configuration (slug, name, fields, copy) are kept.
func (k *Konnector) Merge(src *Konnector) {
	if src == nil {
		return
	}
	if src.ID != "" {
		k.DocMeta = src.DocMeta
	}
	if src.State != "" {
		k.State = src.State
		k.Error = src.Error
	} else if src.Error != "" {
		k.Error = src.Error
	}
	if src.Category != "" {
		k.Category = src.Category
	}
	if src.DataTypes != nil {
		k.DataTypes = slices.Clone(src.DataTypes)
	}
	if src.Source != "" {
		k.Source = src.Source
	}
	if src.Version != "" {
		k.Version = src.Version
	}
	if src.AvailableVersion != "" {
		k.AvailableVersion = src.AvailableVersion
	}
	if src.Accounts != nil {
		k.Accounts = src.Accounts
	}
	if src.Maintenance {
		k.Maintenance = true
	}
}

// SanitizeCategory replaces categories outside allowed with CategoryOthers.
func (k *Konnector) SanitizeCategory(allowed []string) {
	if !slices.Contains(allowed, k.Category) {
		k.Category = CategoryOthers
	}
}

// SortKonnectorsByName orders konnectors by case-insensitive name.
func SortKonnectorsByName(ks []*Konnector) {
	slices.SortStableFunc(ks, func(a, b *Konnector) int {
		return strings.Compare(strings.ToUpper(a.Name), strings.ToUpper(b.Name))
	})
}

// Manifest is the description published alongside a konnector's source.
type Manifest struct {
	Slug         string           `json:"slug"`
	Name         string           `json:"name"`
	Version      string           `json:"version,omitempty"`
	Categories   []string         `json:"categories,omitempty"`
	DataTypes    []string         `json:"data_types,omitempty"`
	Fields       map[string]Field `json:"fields,omitempty"`
	Source       string           `json:"source,omitempty"`
	TimeInterval []int            `json:"time_interval,omitempty"`
}

// ApplyTo enriches k with the manifest's declarative data.
func (m *Manifest) ApplyTo(k *Konnector) {
	if m.Name != "" {
		k.Name = m.Name
	}
	if len(m.Categories) > 0 {
		k.Category = m.Categories[0]
	}
	if len(m.DataTypes) > 0 {
		k.DataTypes = slices.Clone(m.DataTypes)
	}
	if len(m.Fields) > 0 {
		k.Fields = m.Fields
	}
	if m.Version != "" {
		k.Version = m.Version
	}
	if len(m.TimeInterval) == 2 && len(k.TimeInterval) == 0 {
		k.TimeInterval = slices.Clone(m.TimeInterval)
	}
}
