package websocket

import (
	"fmt"
	"reflect"

	socketio "github.com/zishang520/socket.io/v2/socket"
)

// ackFunc is a normalized socket.io acknowledgement. Clients send callbacks
// with different arities, so the raw function is adapted by reflection.
type ackFunc func(err error, payload map[string]any)

// extractAck splits a trailing acknowledgement callback off the event args.
func extractAck(datas []any) (ackFunc, []any) {
	if len(datas) == 0 {
		return nil, datas
	}
	if ack := wrapAck(datas[len(datas)-1]); ack != nil {
		return ack, datas[:len(datas)-1]
	}
	return nil, datas
}

func wrapAck(candidate any) ackFunc {
	switch ack := candidate.(type) {
	case nil:
		return nil
	case func([]any, error):
		// Server-generated acks send their []any as the ack packet data.
		return func(err error, payload map[string]any) {
			ack([]any{payload}, nil)
		}
	}
	fn := reflect.ValueOf(candidate)
	if fn.Kind() != reflect.Func {
		return nil
	}

	return func(err error, payload map[string]any) {
		fn.Call(ackArgs(fn.Type(), err, payload))
	}
}

// ackArgs maps (err, payload) onto the callback's parameters. A single
// parameter receives the error when there is one and the payload otherwise.
func ackArgs(typ reflect.Type, err error, payload map[string]any) []reflect.Value {
	args := make([]reflect.Value, typ.NumIn())
	for i := range args {
		var v any
		switch {
		case len(args) == 1 && err != nil:
			v = err
		case len(args) == 1:
			v = payload
		case i == 0 && err != nil:
			v = err
		case i == 1:
			v = payload
		}
		args[i] = coerce(v, typ.In(i))
	}
	return args
}

func coerce(value any, target reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(target)
	}

	rv := reflect.ValueOf(value)
	switch {
	case rv.Type().AssignableTo(target):
		return rv
	case rv.Type().ConvertibleTo(target):
		return rv.Convert(target)
	case target.Kind() == reflect.String:
		return reflect.ValueOf(fmt.Sprint(value)).Convert(target)
	case target.Kind() == reflect.Map && target.Key().Kind() == reflect.String:
		if m, ok := value.(map[string]any); ok {
			return coerceMap(m, target)
		}
	}
	return reflect.Zero(target)
}

// coerceMap copies entries whose values fit the target element type and
// drops the rest.
func coerceMap(source map[string]any, target reflect.Type) reflect.Value {
	out := reflect.MakeMapWithSize(target, len(source))
	elem := target.Elem()
	for key, val := range source {
		if val == nil {
			continue
		}
		v := reflect.ValueOf(val)
		switch {
		case v.Type().AssignableTo(elem):
		case v.Type().ConvertibleTo(elem):
			v = v.Convert(elem)
		default:
			continue
		}
		out.SetMapIndex(reflect.ValueOf(key).Convert(target.Key()), v)
	}
	return out
}

// respondWithAck invokes the callback, if any, and mirrors the payload as a
// plain event for clients that do not use acknowledgements.
func respondWithAck(socket *socketio.Socket, ack ackFunc, event string, payload map[string]any, ackErr error) {
	if ack != nil {
		ack(ackErr, payload)
	}
	if event != "" && payload != nil {
		_ = socket.Emit(event, payload)
	}
}
