// Package workitem models discovered units of work and the filename
// convention that routes an uploaded object to its task kind:
//
//	{prefix}/{entity}[_{arg}...]_{guid}.{ext}
//
// Costume kinds lead with a variant segment that fixes the remaining
// arguments:
//
//	costumes/hero_{item}_{hero}_{guid}.{ext}
//	costumes/equipment_{item}_{item_type}_{guid}.{ext}
//	costume-illustrations/{variant}_{item}_{hero}_{guid}.{ext}
package workitem

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"scribe/internal/services"
)

// ErrMalformed reports a key that does not follow the filename convention.
var ErrMalformed = errors.New("malformed work item key")

// Item is one unit of discovered work. Key is the object path and is the
// identity used for leases and attempt counters.
type Item struct {
	Key    string            `json:"key"`
	Prefix string            `json:"prefix"`
	Kind   Kind              `json:"kind"`
	Args   map[string]string `json:"args"`
}

// Entity returns the entity reference the item targets.
func (i Item) Entity() string { return i.Args[ArgEntity] }

// Arg returns a named argument or "".
func (i Item) Arg(name string) string { return i.Args[name] }

// Filename returns the base name of the object key.
func (i Item) Filename() string { return path.Base(i.Key) }

// IsFolderMarker reports whether key is the zero-byte "folder/" placeholder
// some S3 clients create.
func IsFolderMarker(key string) bool {
	return strings.HasSuffix(key, "/")
}

// Parse splits an object key into a work item for kind.
func Parse(kind Kind, key string) (Item, error) {
	if !kind.Valid() {
		return Item{}, services.Wrap(services.ErrValidation, "workitem", "parse", fmt.Sprintf("unknown kind %q", kind), nil)
	}
	if IsFolderMarker(key) {
		return Item{}, malformed(key, "folder marker")
	}
	filename := path.Base(key)
	stem, ext := splitExt(filename)
	if stem == "" {
		return Item{}, malformed(key, "empty filename")
	}

	parts := strings.Split(stem, "_")
	names, ok := layouts[kind].argsFor(parts[0])
	if !ok {
		return Item{}, malformed(key, fmt.Sprintf("unknown %s variant %q (want %s)", kind, parts[0], strings.Join(kind.Variants(), " or ")))
	}
	if len(parts) != len(names)+1 {
		return Item{}, malformed(key, fmt.Sprintf("want %d underscore-separated parts, got %d", len(names)+1, len(parts)))
	}
	args := make(map[string]string, len(names)+2)
	for idx, name := range names {
		value := strings.TrimSpace(parts[idx])
		if value == "" {
			return Item{}, malformed(key, fmt.Sprintf("empty %s", name))
		}
		args[name] = value
	}
	guid := strings.TrimSpace(parts[len(parts)-1])
	if guid == "" {
		return Item{}, malformed(key, "empty guid")
	}
	args[ArgGUID] = guid
	args[ArgExt] = ext

	return Item{
		Key:    key,
		Prefix: kind.Prefix(),
		Kind:   kind,
		Args:   args,
	}, nil
}

// ParseKey infers the kind from the key's folder.
func ParseKey(key string) (Item, error) {
	dir := path.Dir(key)
	kind, ok := KindForPrefix(dir)
	if !ok {
		return Item{}, malformed(key, fmt.Sprintf("unknown prefix %q", dir))
	}
	return Parse(kind, key)
}

// ObjectKey builds a key following the convention. args must contain every
// argument the kind's layout names.
func ObjectKey(kind Kind, args map[string]string, guid, ext string) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("unknown task kind %q", kind)
	}
	names, ok := layouts[kind].argsFor(strings.TrimSpace(args[ArgVariant]))
	if !ok {
		return "", fmt.Errorf("%s argument %q must be one of %s", kind, ArgVariant, strings.Join(kind.Variants(), ", "))
	}
	parts := make([]string, 0, len(names)+1)
	for _, name := range names {
		value := strings.TrimSpace(args[name])
		if value == "" {
			return "", fmt.Errorf("%s argument %q required", kind, name)
		}
		if strings.ContainsAny(value, "_/.") {
			return "", fmt.Errorf("%s argument %q must not contain '_', '/' or '.'", kind, name)
		}
		parts = append(parts, value)
	}
	guid = strings.ReplaceAll(strings.TrimSpace(guid), "_", "")
	if guid == "" {
		return "", errors.New("guid required")
	}
	parts = append(parts, guid)
	ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	if ext == "" {
		ext = "jpg"
	}
	return kind.Prefix() + "/" + strings.Join(parts, "_") + "." + ext, nil
}

func splitExt(filename string) (string, string) {
	idx := strings.Index(filename, ".")
	if idx < 0 {
		return filename, ""
	}
	return filename[:idx], strings.ToLower(filename[idx+1:])
}

func malformed(key, reason string) error {
	return services.Wrap(services.ErrValidation, "workitem", "parse", key+": "+reason, ErrMalformed)
}
