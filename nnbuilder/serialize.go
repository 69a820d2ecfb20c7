package nnbuilder

// This file implements the binary format of models consumed by nnrt drivers.
//
// It uses the protocol buffers wire format, with the following (implicit) schema:
//
//	message Model {
//	  string name = 1;
//	  repeated Operand operands = 2;
//	  repeated Operation operations = 3;
//	  repeated int64 inputs = 4 [packed = true];
//	  repeated int64 outputs = 5 [packed = true];
//	}
//	message Operand {
//	  int32 dtype = 1;
//	  repeated int64 dimensions = 2 [packed = true];
//	}
//	message Operation {
//	  int32 type = 1;
//	  repeated int64 inputs = 2 [packed = true];
//	  repeated int64 outputs = 3 [packed = true];
//	  bool align_corners = 4;
//	  bool half_pixel_centers = 5;
//	}

import (
	"github.com/gomlx/nnbridge/dtypes"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldModelName       protowire.Number = 1
	fieldModelOperands   protowire.Number = 2
	fieldModelOperations protowire.Number = 3
	fieldModelInputs     protowire.Number = 4
	fieldModelOutputs    protowire.Number = 5

	fieldOperandDType      protowire.Number = 1
	fieldOperandDimensions protowire.Number = 2

	fieldOperationType             protowire.Number = 1
	fieldOperationInputs           protowire.Number = 2
	fieldOperationOutputs          protowire.Number = 3
	fieldOperationAlignCorners     protowire.Number = 4
	fieldOperationHalfPixelCenters protowire.Number = 5
)

// Serialized returns the model in the binary format consumed by nnrt drivers.
// It implements nnrt.Program.
func (m *Model) Serialized() ([]byte, error) {
	if m.IsNil() {
		return nil, errors.New("Model is nil, maybe it has already been freed?")
	}
	var b []byte
	b = protowire.AppendTag(b, fieldModelName, protowire.BytesType)
	b = protowire.AppendString(b, m.name)
	for _, operand := range m.operands {
		var sub []byte
		sub = protowire.AppendTag(sub, fieldOperandDType, protowire.VarintType)
		sub = protowire.AppendVarint(sub, uint64(operand.DType))
		sub = appendPacked(sub, fieldOperandDimensions, operand.Dimensions)
		b = protowire.AppendTag(b, fieldModelOperands, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	for _, op := range m.operations {
		var sub []byte
		sub = protowire.AppendTag(sub, fieldOperationType, protowire.VarintType)
		sub = protowire.AppendVarint(sub, uint64(op.Type))
		sub = appendPacked(sub, fieldOperationInputs, op.Inputs)
		sub = appendPacked(sub, fieldOperationOutputs, op.Outputs)
		if op.Resize.AlignCorners {
			sub = protowire.AppendTag(sub, fieldOperationAlignCorners, protowire.VarintType)
			sub = protowire.AppendVarint(sub, protowire.EncodeBool(true))
		}
		if op.Resize.HalfPixelCenters {
			sub = protowire.AppendTag(sub, fieldOperationHalfPixelCenters, protowire.VarintType)
			sub = protowire.AppendVarint(sub, protowire.EncodeBool(true))
		}
		b = protowire.AppendTag(b, fieldModelOperations, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	b = appendPacked(b, fieldModelInputs, m.inputs)
	b = appendPacked(b, fieldModelOutputs, m.outputs)
	return b, nil
}

// appendPacked appends a packed repeated varint field. Empty values are omitted.
func appendPacked(b []byte, num protowire.Number, values []int) []byte {
	if len(values) == 0 {
		return b
	}
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

// ParseModel parses a model serialized with Model.Serialized, and validates it the same way Builder.Build does.
func ParseModel(serialized []byte) (*Model, error) {
	m := &Model{}
	err := consumeFields(serialized, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldModelName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			m.name = v
			return n, nil
		case num == fieldModelOperands && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			operand, err := parseOperand(v)
			if err != nil {
				return 0, errors.WithMessagef(err, "operand #%d", len(m.operands))
			}
			m.operands = append(m.operands, operand)
			return n, nil
		case num == fieldModelOperations && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			op, err := parseOperation(v)
			if err != nil {
				return 0, errors.WithMessagef(err, "operation #%d", len(m.operations))
			}
			m.operations = append(m.operations, op)
			return n, nil
		case num == fieldModelInputs:
			return consumeRepeated(typ, b, &m.inputs)
		case num == fieldModelOutputs:
			return consumeRepeated(typ, b, &m.outputs)
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, errors.WithMessage(err, "failed to parse serialized model")
	}
	if err := m.validate(); err != nil {
		return nil, errors.WithMessagef(err, "invalid serialized model %q", m.name)
	}
	return m, nil
}

func parseOperand(serialized []byte) (operand OperandType, err error) {
	err = consumeFields(serialized, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldOperandDType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			operand.DType = dtypes.DType(v)
			return n, nil
		case num == fieldOperandDimensions:
			return consumeRepeated(typ, b, &operand.Dimensions)
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return
	}
	if !operand.DType.IsValid() {
		err = errors.Errorf("invalid dtype %s", operand.DType)
		return
	}
	for _, dim := range operand.Dimensions {
		if dim <= 0 {
			err = errors.Errorf("operand %s has an axis with dimension <= 0", operand)
			return
		}
	}
	return
}

func parseOperation(serialized []byte) (op Operation, err error) {
	err = consumeFields(serialized, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldOperationType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			op.Type = OpType(v)
			return n, nil
		case num == fieldOperationInputs:
			return consumeRepeated(typ, b, &op.Inputs)
		case num == fieldOperationOutputs:
			return consumeRepeated(typ, b, &op.Outputs)
		case num == fieldOperationAlignCorners && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			op.Resize.AlignCorners = protowire.DecodeBool(v)
			return n, nil
		case num == fieldOperationHalfPixelCenters && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			op.Resize.HalfPixelCenters = protowire.DecodeBool(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return
}

// consumeFields iterates over the fields of a serialized message, calling fn with the bytes following each tag.
// fn returns the number of bytes it consumed, or a negative protowire error code.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			return errors.WithMessagef(protowire.ParseError(n), "field %d", num)
		}
		b = b[n:]
	}
	return nil
}

// consumeRepeated parses either a packed or a single unpacked varint value, appending to values.
func consumeRepeated(typ protowire.Type, b []byte, values *[]int) (int, error) {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n >= 0 {
			*values = append(*values, int(v))
		}
		return n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return m, nil
			}
			*values = append(*values, int(v))
			packed = packed[m:]
		}
		return n, nil
	}
	return 0, errors.Errorf("unexpected wire type %d for repeated integer field", typ)
}
