package httpclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FormFile is a file part of a multipart body. Use it as a value in RequestConfig.Data
// together with SendAsFormData. Plain []byte and io.Reader values are sent as files named "blob".
type FormFile struct {
	Filename    string
	ContentType string // defaults to application/octet-stream
	Content     io.Reader
}

// encodeQuery flattens params into url.Values. Lists use the "key[]" form and nested maps the
// "key[sub]" form; nil values are omitted.
func encodeQuery(params map[string]any) (url.Values, error) {
	values := make(url.Values)
	for _, key := range sortedKeys(params) {
		err := flatten(key, params[key], func(k string, v any) error {
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("httpclient: query parameter %q: unsupported value %T", k, v)
			}
			values.Add(k, s)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return values, nil
}

// encodeBody serializes data as JSON, or as multipart form data when asForm is set.
// It returns the encoded body (nil when there is none) and its content type. File contents are
// consumed, so the result is what every attempt of a request must send.
func encodeBody(data any, asForm bool) ([]byte, string, error) {
	if asForm {
		return encodeFormData(data)
	}

	if data == nil {
		return nil, "application/json", nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, "", fmt.Errorf("httpclient: encode JSON body: %w", err)
	}
	return raw, "application/json", nil
}

func encodeFormData(data any) ([]byte, string, error) {
	var fields map[string]any
	switch d := data.(type) {
	case nil:
	case map[string]any:
		fields = d
	case map[string]string:
		fields = make(map[string]any, len(d))
		for k, v := range d {
			fields[k] = v
		}
	default:
		return nil, "", fmt.Errorf("httpclient: form data must be a map[string]any, got %T", data)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, key := range sortedKeys(fields) {
		err := flatten(key, fields[key], func(k string, v any) error {
			switch part := v.(type) {
			case string:
				return w.WriteField(k, part)
			case *FormFile:
				return writeFormFile(w, k, part)
			default:
				return fmt.Errorf("httpclient: form field %q: unsupported value %T", k, v)
			}
		})
		if err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("httpclient: encode form data: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func writeFormFile(w *multipart.Writer, field string, file *FormFile) error {
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, file.Filename))
	header.Set("Content-Type", contentType)

	part, err := w.CreatePart(header)
	if err != nil {
		return fmt.Errorf("httpclient: create form file %q: %w", field, err)
	}
	if file.Content == nil {
		return nil
	}
	if _, err := io.Copy(part, file.Content); err != nil {
		return fmt.Errorf("httpclient: write form file %q: %w", field, err)
	}
	return nil
}

// flatten walks value and calls add with each leaf as a string, or as *FormFile.
func flatten(key string, value any, add func(key string, value any) error) error {
	// Typed nil pointers are absent values, even when they implement fmt.Stringer or io.Reader.
	if rv := reflect.ValueOf(value); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil
	}

	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return add(key, v)
	case *FormFile:
		return add(key, v)
	case []byte:
		return add(key, &FormFile{Filename: "blob", Content: bytes.NewReader(v)})
	case io.Reader:
		return add(key, &FormFile{Filename: "blob", Content: v})
	case []string:
		for _, item := range v {
			if err := add(key+"[]", item); err != nil {
				return err
			}
		}
		return nil
	case time.Time:
		return add(key, v.UTC().Format(time.RFC3339Nano))
	case json.Number:
		return add(key, v.String())
	case fmt.Stringer:
		return add(key, v.String())
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return flatten(key, rv.Elem().Interface(), add)
	case reflect.Bool:
		return add(key, strconv.FormatBool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return add(key, strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return add(key, strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		return add(key, strconv.FormatFloat(rv.Float(), 'f', -1, 64))
	case reflect.String:
		return add(key, rv.String())
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := flatten(key+"[]", rv.Index(i).Interface(), add); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("httpclient: field %q: map keys must be strings", key)
		}
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		for _, k := range keys {
			if err := flatten(key+"["+k.String()+"]", rv.MapIndex(k).Interface(), add); err != nil {
				return err
			}
		}
		return nil
	}

	return fmt.Errorf("httpclient: field %q: unsupported value %T", key, value)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// resolveURL joins path onto base unless path is absolute, then merges the encoded params
// into any query already present in path.
func resolveURL(base, path string, params map[string]any) (string, error) {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("httpclient: invalid request URL %q: %w", target, err)
	}

	if len(params) == 0 {
		return u.String(), nil
	}

	encoded, err := encodeQuery(params)
	if err != nil {
		return "", err
	}

	query := u.Query()
	for key, values := range encoded {
		for _, value := range values {
			query.Add(key, value)
		}
	}
	u.RawQuery = query.Encode()

	return u.String(), nil
}
