// Package template loads the role-named reference images used for on-screen
// matching. Templates are loaded once at startup and never mutated.
package template

import (
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"path/filepath"

	"chat-triage-bot/matcher"
)

// Role names a UI element a template stands for. The role doubles as the
// asset file name (<role>.png).
type Role string

const (
	RoleNewMessage      Role = "new_message"
	RoleInputBox        Role = "input_box"
	RoleSendButton      Role = "send_button"
	RoleTransferButton  Role = "transfer_button"
	RoleChatWindow      Role = "chat_window"
	RoleCloseChat       Role = "close_chat"
	RoleReceptionCenter Role = "reception_center"
)

// requiredRoles block startup when their asset is missing. close_chat and
// reception_center are conveniences some seller workbench skins lack.
var requiredRoles = []Role{
	RoleNewMessage,
	RoleInputBox,
	RoleSendButton,
	RoleTransferButton,
	RoleChatWindow,
}

var optionalRoles = []Role{
	RoleCloseChat,
	RoleReceptionCenter,
}

// AssetError reports a required template or asset that could not be loaded.
// It is a startup-blocking condition.
type AssetError struct {
	Path string
	Err  error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("template asset %s: %v", e.Path, e.Err)
}

func (e *AssetError) Unwrap() error { return e.Err }

// Template is an immutable reference image tagged with its role.
type Template struct {
	Role Role
	Path string
	Img  image.Image
	Gray *matcher.Gray
}

// Set holds all templates loaded from the asset directory.
type Set struct {
	byRole map[Role]*Template
}

// LoadSet reads every role-named template from dir, creating the directory if
// absent. A missing required template fails with *AssetError; missing
// optional templates are logged and skipped.
func LoadSet(dir string) (*Set, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &AssetError{Path: dir, Err: err}
	}

	set := &Set{byRole: make(map[Role]*Template)}
	for _, role := range requiredRoles {
		tpl, err := loadOne(dir, role)
		if err != nil {
			return nil, err
		}
		set.byRole[role] = tpl
	}
	for _, role := range optionalRoles {
		tpl, err := loadOne(dir, role)
		if err != nil {
			log.Printf("Optional template %s unavailable, skipping: %v", role, err)
			continue
		}
		set.byRole[role] = tpl
	}
	return set, nil
}

func loadOne(dir string, role Role) (*Template, error) {
	path := filepath.Join(dir, string(role)+".png")
	f, err := os.Open(path)
	if err != nil {
		return nil, &AssetError{Path: path, Err: err}
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, &AssetError{Path: path, Err: err}
	}
	return &Template{
		Role: role,
		Path: path,
		Img:  img,
		Gray: matcher.FromImage(img),
	}, nil
}

// Get returns the template for a role; ok is false for optional roles whose
// asset was absent.
func (s *Set) Get(role Role) (*Template, bool) {
	tpl, ok := s.byRole[role]
	return tpl, ok
}

// MustGet returns a required-role template. It panics only on programmer
// error: required roles are guaranteed present after LoadSet succeeds.
func (s *Set) MustGet(role Role) *Template {
	tpl, ok := s.byRole[role]
	if !ok {
		panic(fmt.Sprintf("template role %s not loaded", role))
	}
	return tpl
}
