package config

import (
	"os"
	"path/filepath"

	"github.com/gdamore/tcell/v2"
	"gopkg.in/yaml.v3"
)

// Color represents a color that can be specified as hex string or name.
type Color string

// ToTcellColor converts a Color to tcell.Color.
func (c Color) ToTcellColor() tcell.Color {
	if c == "" {
		return tcell.ColorDefault
	}
	return tcell.GetColor(string(c))
}

// StyleConfig is a complete dashboard theme.
type StyleConfig struct {
	K13d K13dStyles `yaml:"k13d"`
}

// K13dStyles contains every panel's style definitions for the operator
// dashboard (pkg/dashboard), adapted from the teacher's K13sStyles theme
// struct with the table/log/dialog/status-bar shapes kept, and a
// ChartStyle replaced by a ConnectionStyle since this dashboard shows live
// connections and pending approvals rather than cluster metric graphs.
type K13dStyles struct {
	Body       BodyStyle       `yaml:"body"`
	Frame      FrameStyle      `yaml:"frame"`
	Views      ViewStyles      `yaml:"views"`
	Dialog     DialogStyle     `yaml:"dialog"`
	StatusBar  StatusBarStyle  `yaml:"statusBar"`
	Connection ConnectionStyle `yaml:"connection"`
}

// BodyStyle defines the main application background.
type BodyStyle struct {
	FgColor Color `yaml:"fgColor"`
	BgColor Color `yaml:"bgColor"`
}

// FrameStyle defines border and title styles.
type FrameStyle struct {
	BorderColor      Color `yaml:"borderColor"`
	FocusBorderColor Color `yaml:"focusBorderColor"`
	TitleColor       Color `yaml:"titleColor"`
	FocusTitleColor  Color `yaml:"focusTitleColor"`
}

// ViewStyles contains styles for the dashboard's table and log panels.
type ViewStyles struct {
	Table TableStyle `yaml:"table"`
	Log   LogStyle   `yaml:"log"`
}

// TableStyle defines table/list view colors.
type TableStyle struct {
	Header      CellStyle `yaml:"header"`
	RowOdd      CellStyle `yaml:"rowOdd"`
	RowEven     CellStyle `yaml:"rowEven"`
	RowSelected CellStyle `yaml:"rowSelected"`
	RowHover    CellStyle `yaml:"rowHover"`
}

// CellStyle defines a table cell's appearance.
type CellStyle struct {
	FgColor Color `yaml:"fgColor"`
	BgColor Color `yaml:"bgColor"`
	Bold    bool  `yaml:"bold"`
}

// LogStyle defines the event-log panel's colors.
type LogStyle struct {
	FgColor      Color `yaml:"fgColor"`
	BgColor      Color `yaml:"bgColor"`
	ErrorColor   Color `yaml:"errorColor"`
	WarningColor Color `yaml:"warningColor"`
	InfoColor    Color `yaml:"infoColor"`
}

// ConnectionStyle colors the live-connections panel's role and state
// badges: one color per registry.Role plus a distinct color for a pending
// pairing or approval entry awaiting operator action.
type ConnectionStyle struct {
	Operator      Color `yaml:"operator"`
	Node          Color `yaml:"node"`
	ChannelPlugin Color `yaml:"channelPlugin"`
	Pending       Color `yaml:"pending"`
	Stale         Color `yaml:"stale"`
}

// DialogStyle defines modal/dialog colors.
type DialogStyle struct {
	FgColor       Color `yaml:"fgColor"`
	BgColor       Color `yaml:"bgColor"`
	ButtonFgColor Color `yaml:"buttonFgColor"`
	ButtonBgColor Color `yaml:"buttonBgColor"`
	ButtonFocusFg Color `yaml:"buttonFocusFgColor"`
	ButtonFocusBg Color `yaml:"buttonFocusBgColor"`
}

// StatusBarStyle defines status bar colors.
type StatusBarStyle struct {
	FgColor    Color `yaml:"fgColor"`
	BgColor    Color `yaml:"bgColor"`
	ErrorColor Color `yaml:"errorColor"`
}

// DefaultStyles returns the dashboard's built-in Dracula-inspired theme.
func DefaultStyles() *StyleConfig {
	return &StyleConfig{
		K13d: K13dStyles{
			Body: BodyStyle{
				FgColor: "#f8f8f2",
				BgColor: "#282a36",
			},
			Frame: FrameStyle{
				BorderColor:      "#6272a4",
				FocusBorderColor: "#bd93f9",
				TitleColor:       "#f8f8f2",
				FocusTitleColor:  "#50fa7b",
			},
			Views: ViewStyles{
				Table: TableStyle{
					Header:      CellStyle{FgColor: "#bd93f9", BgColor: "#282a36", Bold: true},
					RowOdd:      CellStyle{FgColor: "#f8f8f2", BgColor: "#282a36"},
					RowEven:     CellStyle{FgColor: "#f8f8f2", BgColor: "#343746"},
					RowSelected: CellStyle{FgColor: "#282a36", BgColor: "#8be9fd"},
					RowHover:    CellStyle{FgColor: "#f8f8f2", BgColor: "#44475a"},
				},
				Log: LogStyle{
					FgColor:      "#f8f8f2",
					BgColor:      "#282a36",
					ErrorColor:   "#ff5555",
					WarningColor: "#ffb86c",
					InfoColor:    "#8be9fd",
				},
			},
			Dialog: DialogStyle{
				FgColor:       "#f8f8f2",
				BgColor:       "#44475a",
				ButtonFgColor: "#f8f8f2",
				ButtonBgColor: "#6272a4",
				ButtonFocusFg: "#282a36",
				ButtonFocusBg: "#50fa7b",
			},
			StatusBar: StatusBarStyle{
				FgColor:    "#f8f8f2",
				BgColor:    "#6272a4",
				ErrorColor: "#ff5555",
			},
			Connection: ConnectionStyle{
				Operator:      "#8be9fd",
				Node:          "#50fa7b",
				ChannelPlugin: "#bd93f9",
				Pending:       "#ffb86c",
				Stale:         "#6272a4",
			},
		},
	}
}

// LoadStyles loads a named skin file, falling back to DefaultStyles when
// missing or unparsable.
func LoadStyles(skinName string) (*StyleConfig, error) {
	if skinName == "" {
		skinName = "default"
	}
	configDir, err := GetConfigDir()
	if err != nil {
		return DefaultStyles(), nil
	}

	skinPath := filepath.Join(configDir, "skins", skinName+".yaml")
	data, err := os.ReadFile(skinPath)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultStyles(), nil
		}
		return nil, err
	}

	var styles StyleConfig
	if err := yaml.Unmarshal(data, &styles); err != nil {
		return DefaultStyles(), nil
	}
	return &styles, nil
}

// SaveStyles writes a named skin file.
func SaveStyles(skinName string, styles *StyleConfig) error {
	if skinName == "" {
		skinName = "default"
	}
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}

	skinDir := filepath.Join(configDir, "skins")
	if err := os.MkdirAll(skinDir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(styles)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(skinDir, skinName+".yaml"), data, 0644)
}

// ListSkins returns available skin names, always including "default".
func ListSkins() ([]string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return []string{"default"}, nil
	}

	skinDir := filepath.Join(configDir, "skins")
	entries, err := os.ReadDir(skinDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{"default"}, nil
		}
		return nil, err
	}

	var skins []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".yaml" {
			name := entry.Name()
			skins = append(skins, name[:len(name)-5])
		}
	}
	if len(skins) == 0 {
		skins = []string{"default"}
	}
	return skins, nil
}
