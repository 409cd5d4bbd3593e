package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks v against its `validate` struct tags. Slices are checked
// element by element. Failures come back as KindValidation errors.
func Validate(v any) error {
	if err := validateValue(v); err != nil {
		return &APIError{Kind: KindValidation, Detail: describeValidation(err), Cause: err}
	}
	return nil
}

func validateValue(v any) error {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		return validate.Struct(rv.Interface())
	case reflect.Slice, reflect.Array:
		if rv.Len() == 0 {
			return nil
		}
		elem := rv.Type().Elem()
		for elem.Kind() == reflect.Pointer {
			elem = elem.Elem()
		}
		if elem.Kind() != reflect.Struct {
			return nil
		}
		return validate.Var(rv.Interface(), "dive")
	}
	return nil
}

func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fe.Namespace()+" failed "+rule)
	}
	return strings.Join(parts, "; ")
}

// Decode unmarshals a payload into T and validates it.
func Decode[T any](raw json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &APIError{Kind: KindValidation, Detail: "unexpected response shape: " + err.Error(), Cause: err}
	}
	if err := Validate(out); err != nil {
		return out, err
	}
	return out, nil
}

func decodeFrom[T any](c *Client, raw json.RawMessage, err error) (T, error) {
	if err != nil {
		var zero T
		return zero, err
	}
	out, err := Decode[T](raw)
	if apiErr, ok := AsAPIError(err); ok {
		apiErr.Service = c.desc.Name
	}
	return out, err
}

// GetJSON issues a GET and decodes the payload into T.
func GetJSON[T any](ctx context.Context, c *Client, path string, opts ...RequestOption) (T, error) {
	raw, err := c.Get(ctx, path, opts...)
	return decodeFrom[T](c, raw, err)
}

// PostJSON validates body, issues a POST and decodes the payload into T.
func PostJSON[T any](ctx context.Context, c *Client, path string, body any, opts ...RequestOption) (T, error) {
	if err := Validate(body); err != nil {
		var zero T
		return zero, err
	}
	raw, err := c.Post(ctx, path, body, opts...)
	return decodeFrom[T](c, raw, err)
}

// PutJSON validates body, issues a PUT and decodes the payload into T.
func PutJSON[T any](ctx context.Context, c *Client, path string, body any, opts ...RequestOption) (T, error) {
	if err := Validate(body); err != nil {
		var zero T
		return zero, err
	}
	raw, err := c.Put(ctx, path, body, opts...)
	return decodeFrom[T](c, raw, err)
}

// DeleteJSON issues a DELETE and decodes the payload into T.
func DeleteJSON[T any](ctx context.Context, c *Client, path string, opts ...RequestOption) (T, error) {
	raw, err := c.Delete(ctx, path, opts...)
	return decodeFrom[T](c, raw, err)
}
