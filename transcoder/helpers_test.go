package transcoder

import (
	stderrors "errors"
	"reflect"
)

func ptr[T any](v T) *T { return &v }

func reflectType[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func reflectValue(p any) reflect.Value {
	return reflect.ValueOf(p).Elem()
}

func errorsAs(err error, target any) bool {
	return err != nil && stderrors.As(err, target)
}
