package config

import (
	"errors"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	DefaultConfigFileName = "config.toml"
	DefaultDBName         = "dayplan.db"
)

type Keymap struct {
	Quit     string `toml:"quit"`
	Add      string `toml:"add"`
	Up       string `toml:"up"`
	Down     string `toml:"down"`
	Toggle   string `toml:"toggle"`
	Edit     string `toml:"edit"`
	Delete   string `toml:"delete"`
	Undo     string `toml:"undo"`
	Calendar string `toml:"calendar"`
	NextDay  string `toml:"next_day"`
	PrevDay  string `toml:"prev_day"`
	Today    string `toml:"today"`
	Confirm  string `toml:"confirm"`
	Cancel   string `toml:"cancel"`
}

type Config struct {
	DBPath string `toml:"db_path"`
	Keys   Keymap `toml:"keys"`
}

// ResolveConfigPath puts the config next to the user's other configs when a
// config home exists, otherwise in the working directory.
func ResolveConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "dayplan", DefaultConfigFileName)
	}
	return DefaultConfigFileName
}

func LoadOrCreate(path string) (Config, error) {
	cfg := defaultConfig()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := write(path, cfg); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBName
	}
	return cfg, nil
}

func write(path string, cfg Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultConfig() Config {
	return Config{
		DBPath: DefaultDBName,
		Keys: Keymap{
			Quit:     "q",
			Add:      "a",
			Up:       "k",
			Down:     "j",
			Toggle:   " ",
			Edit:     "e",
			Delete:   "d",
			Undo:     "u",
			Calendar: "c",
			NextDay:  "l",
			PrevDay:  "h",
			Today:    "t",
			Confirm:  "enter",
			Cancel:   "esc",
		},
	}
}
