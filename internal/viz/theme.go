package viz

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Palette holds the colors one turn state renders with.
type Palette struct {
	Glow      string `yaml:"glow"`
	Primary   string `yaml:"primary"`
	Secondary string `yaml:"secondary"`
}

// Theme carries one palette per turn state.
type Theme struct {
	Name      string  `yaml:"name"`
	Idle      Palette `yaml:"idle"`
	Listening Palette `yaml:"listening"`
	Thinking  Palette `yaml:"thinking"`
	Speaking  Palette `yaml:"speaking"`
}

// ThemeInfo lists a loadable theme for the shell.
type ThemeInfo struct {
	Filename string `json:"filename"`
	Name     string `json:"name"`
}

// DefaultTheme is the built-in palette set used when no theme dir entry
// matches.
var DefaultTheme = Theme{
	Name:      "aurora",
	Idle:      Palette{Glow: "#1a2340", Primary: "#3d5afe", Secondary: "#202a4d"},
	Listening: Palette{Glow: "#0d3330", Primary: "#1de9b6", Secondary: "#14554c"},
	Thinking:  Palette{Glow: "#2d1b42", Primary: "#b388ff", Secondary: "#4a2f6e"},
	Speaking:  Palette{Glow: "#3c2415", Primary: "#ffab40", Secondary: "#6e4420"},
}

// ScanThemes lists the built-in theme plus every YAML theme in dir.
func ScanThemes(dir string) []ThemeInfo {
	themes := []ThemeInfo{{Filename: "", Name: DefaultTheme.Name}}
	if dir == "" {
		return themes
	}
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil || d == nil || d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".yaml") {
			return nil
		}
		name := d.Name()
		if theme, err := ReadTheme(path); err == nil && theme.Name != "" {
			name = theme.Name
		}
		themes = append(themes, ThemeInfo{Filename: d.Name(), Name: name})
		return nil
	})
	return themes
}

// LoadTheme resolves name against dir, falling back to the built-in theme
// for the empty name, unknown names or unreadable files.
func LoadTheme(dir, name string) Theme {
	if name == "" || name == DefaultTheme.Name || dir == "" {
		return DefaultTheme
	}
	for _, info := range ScanThemes(dir) {
		if info.Name != name && info.Filename != name {
			continue
		}
		if info.Filename == "" {
			return DefaultTheme
		}
		if theme, err := ReadTheme(filepath.Join(dir, info.Filename)); err == nil {
			return theme
		}
	}
	return DefaultTheme
}

// ReadTheme parses one theme file. Palettes left empty inherit from the
// built-in theme so a partial file still renders.
func ReadTheme(path string) (Theme, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Theme{}, err
	}
	theme := DefaultTheme
	if err := yaml.Unmarshal(data, &theme); err != nil {
		return Theme{}, err
	}
	if theme.Name == "" {
		theme.Name = strings.TrimSuffix(filepath.Base(path), ".yaml")
	}
	return theme, nil
}

func (t Theme) palette(state string) Palette {
	switch state {
	case "listening":
		return t.Listening
	case "thinking":
		return t.Thinking
	case "speaking":
		return t.Speaking
	default:
		return t.Idle
	}
}
