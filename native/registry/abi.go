package registry

import "metatx/core/types"

// EncodeRegister encodes the register arguments.
func EncodeRegister(name string, data []byte) []byte {
	w := types.NewScaleWriter(len(name) + len(data) + 10)
	w.WriteString(name)
	w.WriteBytes(data)
	return w.Bytes()
}

// EncodeUnregister encodes the unregister argument.
func EncodeUnregister(data []byte) []byte {
	w := types.NewScaleWriter(len(data) + 5)
	w.WriteBytes(data)
	return w.Bytes()
}

// EncodeGetOwner encodes the get_owner argument.
func EncodeGetOwner(name string) []byte {
	w := types.NewScaleWriter(len(name) + 5)
	w.WriteString(name)
	return w.Bytes()
}

// EncodeOptionalString encodes an optional string result.
func EncodeOptionalString(s string, ok bool) []byte {
	w := types.NewScaleWriter(len(s) + 6)
	w.WriteBool(ok)
	if ok {
		w.WriteString(s)
	}
	return w.Bytes()
}

// DecodeOptionalString decodes an optional string result.
func DecodeOptionalString(output []byte) (string, bool, error) {
	r := types.NewScaleReader(output)
	ok, err := r.ReadBool()
	if err != nil || !ok {
		return "", false, err
	}
	s, err := r.ReadString()
	if err != nil {
		return "", false, err
	}
	return s, true, r.Done()
}
