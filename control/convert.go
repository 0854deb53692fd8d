package control

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// toStruct converts a JSON-serializable value into a protobuf Struct.
func toStruct(in any) (*structpb.Struct, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("unable to serialize %T: %w", in, err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unable to deserialize %T into a map: %w", in, err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("unable to convert %T into a protobuf struct: %w", in, err)
	}
	return s, nil
}

func fromStruct(s *structpb.Struct, out any) error {
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("unable to serialize the protobuf struct: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("unable to deserialize into %T: %w", out, err)
	}
	return nil
}
