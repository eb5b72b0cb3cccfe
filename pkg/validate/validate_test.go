package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name   string `json:"name" validate:"required"`
	RoomID string `json:"roomId" validate:"roomid"`
	Port   int    `mapstructure:"port" validate:"port"`
}

func TestStruct(t *testing.T) {
	err := Struct(payload{Name: "general", RoomID: "507F1F77BCF86CD799439011", Port: 8080})
	assert.NoError(t, err)

	err = Struct(payload{RoomID: "nope", Port: 70000})
	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, map[string]string{
		"name":   "name is a required field",
		"roomId": "roomId must be a 24 character hexadecimal id",
		"port":   "port must be a valid port number",
	}, verr.Fields)
	assert.Equal(t,
		"name: name is a required field; port: port must be a valid port number; roomId: roomId must be a 24 character hexadecimal id",
		verr.Error())
}

type nested struct {
	Server struct {
		URL string `mapstructure:"url" validate:"required,url"`
	} `mapstructure:"server"`
}

func TestStruct_NestedFieldsUseFullPath(t *testing.T) {
	var verr *Error
	require.ErrorAs(t, Struct(nested{}), &verr)
	assert.Contains(t, verr.Fields, "server.url")
}
