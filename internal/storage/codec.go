package storage

import (
	"encoding/json"

	"github.com/quantmesh/QuorumGo/internal/models"
)

func marshalReflection(r models.ReflectionResult) ([]byte, error) {
	return json.Marshal(r)
}

func unmarshalReflection(data []byte) (models.ReflectionResult, error) {
	var r models.ReflectionResult
	err := json.Unmarshal(data, &r)
	return r, err
}
