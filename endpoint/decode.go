package endpoint

import (
	"bytes"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
)

// defaultFieldLimit caps a decoded path, query or header value. Bodies are
// not capped by default; use a body limit processor for that.
var defaultFieldLimit = 16 * 1024

// Unmarshal fills the struct dst points to from r.
//
// Supported tags:
//   - `path:"name"`   r.PathValue(name)
//   - `query:"name"`  URL query parameter; slice fields collect every value
//   - `header:"name"` request header; slice fields collect every value
//   - `body:""`       the whole request body; string and []byte fields take
//     it raw, anything else is decoded as JSON (add ",json" to force it)
//   - `maxLength:"n"` overrides the value size limit; "" or "0" disables it
//
// A name of "-" skips the field. An empty name defaults to the lowercased
// field name. When several tags are present they are tried in the order
// path, query, header, body, and the first one with data wins. Fields with
// no data are left unchanged. Untagged struct fields are recursed into.
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil pointer"))
	}
	root := v.Elem()
	if root.Kind() == reflect.Pointer {
		if root.IsNil() {
			root.Set(reflect.New(root.Type().Elem()))
		}
		root = root.Elem()
	}
	if root.Kind() != reflect.Struct {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must point to a struct"))
	}
	return decodeStruct(r, root)
}

// source fetches the raw values stored under name, if any.
type source func(r *http.Request, name string) ([][]byte, bool, error)

var sources = []struct {
	tag   string
	fetch source
}{
	{"path", fetchPath},
	{"query", fetchQuery},
	{"header", fetchHeader},
	{"body", fetchBody},
}

type fieldTag struct {
	source    string
	name      string
	json      bool
	maxLength int
}

func decodeStruct(r *http.Request, sv reflect.Value) error {
	t := sv.Type()
	bodyField := ""
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		fv := sv.Field(i)

		tags, skip, err := fieldTags(sf)
		if err != nil {
			return Error(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: field %s: %w", sf.Name, err))
		}
		if skip {
			continue
		}
		if len(tags) == 0 {
			if inner := structValue(fv); inner.IsValid() {
				if err := decodeStruct(r, inner); err != nil {
					return err
				}
			}
			continue
		}

		for _, tag := range tags {
			if tag.source == "body" {
				if bodyField != "" {
					return Error(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: multiple body fields: %s and %s", bodyField, sf.Name))
				}
				bodyField = sf.Name
			}
			ok, err := setFromSource(r, fv, tag, sf.Name)
			if err != nil {
				return err
			}
			if ok {
				break
			}
		}
	}
	return nil
}

// structValue returns the struct behind an untagged field, allocating nil
// pointers, or the zero Value if the field is not a plain struct.
func structValue(fv reflect.Value) reflect.Value {
	if fv.Kind() == reflect.Pointer && fv.Type().Elem().Kind() == reflect.Struct {
		if fv.IsNil() {
			fv.Set(reflect.New(fv.Type().Elem()))
		}
		fv = fv.Elem()
	}
	if fv.Kind() != reflect.Struct {
		return reflect.Value{}
	}
	if fv.CanAddr() && fv.Addr().Type().Implements(reflect.TypeFor[encoding.TextUnmarshaler]()) {
		return reflect.Value{}
	}
	return fv
}

func fieldTags(sf reflect.StructField) ([]fieldTag, bool, error) {
	limit, err := fieldLengthLimit(sf)
	if err != nil {
		return nil, false, err
	}
	var tags []fieldTag
	for _, s := range sources {
		val, has := sf.Tag.Lookup(s.tag)
		if !has {
			continue
		}
		parts := strings.Split(val, ",")
		tag := fieldTag{source: s.tag, name: strings.TrimSpace(parts[0]), maxLength: limit}
		if tag.name == "-" {
			return nil, true, nil
		}
		if tag.name == "" {
			tag.name = strings.ToLower(sf.Name)
		}
		for _, p := range parts[1:] {
			switch flag := strings.ToLower(strings.TrimSpace(p)); flag {
			case "":
			case "json":
				tag.json = true
			default:
				return nil, false, fmt.Errorf("unknown %s tag flag %q", s.tag, flag)
			}
		}
		if s.tag == "body" {
			if _, has := sf.Tag.Lookup("maxLength"); !has {
				tag.maxLength = 0
			}
			if !isStringOrBytes(sf.Type) {
				tag.json = true
			}
		}
		tags = append(tags, tag)
	}
	return tags, false, nil
}

func fieldLengthLimit(sf reflect.StructField) (int, error) {
	val, has := sf.Tag.Lookup("maxLength")
	if !has {
		return defaultFieldLimit, nil
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("maxLength: invalid integer %q", val)
	}
	if n < 0 {
		return 0, fmt.Errorf("maxLength: must be >= 0")
	}
	return n, nil
}

func isStringOrBytes(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.String || (t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8)
}

func fetchPath(r *http.Request, name string) ([][]byte, bool, error) {
	v := r.PathValue(name)
	if v == "" {
		return nil, false, nil
	}
	return [][]byte{[]byte(v)}, true, nil
}

func fetchQuery(r *http.Request, name string) ([][]byte, bool, error) {
	if r.URL == nil {
		return nil, false, nil
	}
	return toBytes(r.URL.Query()[name])
}

func fetchHeader(r *http.Request, name string) ([][]byte, bool, error) {
	// Direct map access tells present-but-empty apart from missing.
	return toBytes(r.Header[http.CanonicalHeaderKey(name)])
}

func fetchBody(r *http.Request, _ string) ([][]byte, bool, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, false, nil
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, false, Error(http.StatusRequestEntityTooLarge, "", fmt.Errorf("endpoint: decode: body: %w", err))
		}
		return nil, false, Error(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: body: %w", err))
	}
	return [][]byte{b}, true, nil
}

func toBytes(vs []string) ([][]byte, bool, error) {
	if len(vs) == 0 {
		return nil, false, nil
	}
	out := make([][]byte, len(vs))
	for i, s := range vs {
		out[i] = []byte(s)
	}
	return out, true, nil
}

func setFromSource(r *http.Request, fv reflect.Value, tag fieldTag, fieldName string) (bool, error) {
	var fetch source
	for _, s := range sources {
		if s.tag == tag.source {
			fetch = s.fetch
		}
	}
	raw, ok, err := fetch(r, tag.name)
	if err != nil || !ok {
		return false, err
	}
	for _, val := range raw {
		if tag.maxLength > 0 && len(val) > tag.maxLength {
			return false, Error(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q -> %s: value exceeds max length %d", tag.source, tag.name, fieldName, tag.maxLength))
		}
	}
	if err := setField(fv, raw, tag.json); err != nil {
		return false, Error(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q -> %s: %w", tag.source, tag.name, fieldName, err))
	}
	return true, nil
}

func setField(v reflect.Value, values [][]byte, asJSON bool) error {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	if asJSON {
		return json.NewDecoder(bytes.NewReader(values[0])).Decode(v.Addr().Interface())
	}
	isBytes := v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8
	if v.Kind() == reflect.Slice && !isBytes {
		slice := reflect.MakeSlice(v.Type(), 0, len(values))
		for _, val := range values {
			elem := reflect.New(v.Type().Elem()).Elem()
			if err := setScalar(elem, val); err != nil {
				return err
			}
			slice = reflect.Append(slice, elem)
		}
		v.Set(slice)
		return nil
	}
	return setScalar(v, values[0])
}

func setScalar(v reflect.Value, b []byte) error {
	if v.CanAddr() {
		if u, ok := v.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return u.UnmarshalText(b)
		}
	}
	s := string(b)
	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Slice:
		// Only []byte reaches here.
		v.SetBytes(bytes.Clone(b))
	case reflect.Bool:
		bb, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		v.SetBool(bb)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetFloat(f)
	default:
		return fmt.Errorf("unsupported kind %s", v.Kind())
	}
	return nil
}
