package pki_test

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"testing"

	"github.com/jmcleod/ironcert/pki"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNameFromMap_CanonicalOrder(t *testing.T) {
	name, err := pki.NameFromMap(map[string]string{
		"COMMON_NAME":              "common_name",
		"EMAIL_ADDRESS":            "someone@example.com",
		"COUNTRY_NAME":             "IN",
		"ORGANIZATIONAL_UNIT_NAME": "unit",
		"ORGANIZATION_NAME":        "org",
		"STATE_OR_PROVINCE_NAME":   "state",
		"LOCALITY_NAME":            "city",
	})
	require.NoError(t, err)

	var order []string
	for _, attr := range name {
		order = append(order, attr.Type)
	}
	assert.Equal(t, []string{
		"COUNTRY_NAME", "STATE_OR_PROVINCE_NAME", "LOCALITY_NAME",
		"ORGANIZATION_NAME", "ORGANIZATIONAL_UNIT_NAME", "COMMON_NAME", "EMAIL_ADDRESS",
	}, order)

	der, err := name.Marshal()
	require.NoError(t, err)
	var rdns pkix.RDNSequence
	rest, err := asn1.Unmarshal(der, &rdns)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Len(t, rdns, 7)
	assert.Equal(t, "C=IN,ST=state,L=city,O=org,OU=unit,CN=common_name,EMAILADDRESS=someone@example.com", name.String())
}

func TestNameFromMap_Errors(t *testing.T) {
	_, err := pki.NameFromMap(map[string]string{"FAVOURITE_COLOUR": "blue"})
	assert.ErrorIs(t, err, pki.ErrConfig)

	_, err = pki.NameFromMap(map[string]string{"COMMON_NAME": "a", "CN": "b"})
	assert.ErrorIs(t, err, pki.ErrConfig)
}

func TestName_Marshal(t *testing.T) {
	t.Run("matches crypto/x509/pkix", func(t *testing.T) {
		der, err := pki.Name{{Type: "C", Value: "US"}, {Type: "O", Value: "Example"}, {Type: "CN", Value: "host"}}.Marshal()
		require.NoError(t, err)

		var rdns pkix.RDNSequence
		_, err = asn1.Unmarshal(der, &rdns)
		require.NoError(t, err)
		var name pkix.Name
		name.FillFromRDNSequence(&rdns)
		assert.Equal(t, []string{"US"}, name.Country)
		assert.Equal(t, []string{"Example"}, name.Organization)
		assert.Equal(t, "host", name.CommonName)
	})

	tests := []struct {
		name string
		in   pki.Name
	}{
		{"empty", pki.Name{}},
		{"empty value", pki.Name{{Type: "CN", Value: ""}}},
		{"long country", pki.Name{{Type: "C", Value: "USA"}}},
		{"non printable serial", pki.Name{{Type: "SERIAL_NUMBER", Value: "a*b"}}},
		{"non ascii email", pki.Name{{Type: "E", Value: "ü@example.com"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.in.Marshal()
			assert.ErrorIs(t, err, pki.ErrConfig)
		})
	}
}

func TestParseDistinguishedName(t *testing.T) {
	name, err := pki.ParseDistinguishedName(`CN=Example\, Inc, O = Org ,C=US`)
	require.NoError(t, err)
	assert.Equal(t, pki.Name{
		{Type: "CN", Value: "Example, Inc"},
		{Type: "O", Value: "Org"},
		{Type: "C", Value: "US"},
	}, name)
	assert.Equal(t, `CN=Example\, Inc,O=Org,C=US`, name.String())

	for _, bad := range []string{"CN=a,broken", "", "CN=a\\", "=x"} {
		_, err = pki.ParseDistinguishedName(bad)
		assert.ErrorIs(t, err, pki.ErrConfig, bad)
	}
}

func TestParseDistinguishedName_HexEscapes(t *testing.T) {
	name, err := pki.ParseDistinguishedName(`CN=Example\2C Inc,O=M\C3\BCller\20`)
	require.NoError(t, err)
	assert.Equal(t, pki.Name{
		{Type: "CN", Value: "Example, Inc"},
		{Type: "O", Value: "Müller "},
	}, name)
}

func TestParseDistinguishedName_MultiValuedRDN(t *testing.T) {
	name, err := pki.ParseDistinguishedName("OU=Sales+CN=J. Smith,O=Example,C=US")
	require.NoError(t, err)
	assert.Equal(t, pki.Name{
		{Type: "OU", Value: "Sales"},
		{Type: "CN", Value: "J. Smith", MultiValued: true},
		{Type: "O", Value: "Example"},
		{Type: "C", Value: "US"},
	}, name)
	assert.Equal(t, "OU=Sales+CN=J. Smith,O=Example,C=US", name.String())

	der, err := name.Marshal()
	require.NoError(t, err)
	var rdns pkix.RDNSequence
	_, err = asn1.Unmarshal(der, &rdns)
	require.NoError(t, err)
	require.Len(t, rdns, 3)
	assert.Len(t, rdns[0], 2)
}

func TestNameFromAttributes_KeepsOrder(t *testing.T) {
	name, err := pki.NameFromAttributes([]pki.NameAttribute{
		{Type: "CN", Value: "host"},
		{Type: "organization_name", Value: "Example"},
		{Type: "C", Value: "US"},
	})
	require.NoError(t, err)
	assert.Equal(t, pki.Name{
		{Type: "COMMON_NAME", Value: "host"},
		{Type: "ORGANIZATION_NAME", Value: "Example"},
		{Type: "COUNTRY_NAME", Value: "US"},
	}, name)
	assert.Equal(t, "CN=host,O=Example,C=US", name.String())

	_, err = pki.NameFromAttributes([]pki.NameAttribute{{Type: "CN", Value: "a"}, {Type: "COMMON_NAME", Value: "b"}})
	assert.ErrorIs(t, err, pki.ErrConfig)
}
