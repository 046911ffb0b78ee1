// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package shared

import (
	"encoding/json"
	"testing"

	"github.com/kylelemons/godebug/pretty"
)

func TestAccountKey(t *testing.T) {
	acc := Account{
		HomeAccountID: "hid",
		Environment:   "env",
		Realm:         "realm",
	}
	if got, want := acc.Key(), "hid-env-realm"; got != want {
		t.Errorf("got key %q, want %q", got, want)
	}
}

func TestNewAccount(t *testing.T) {
	acc := NewAccount("hid", "env", "realm", "lid", "MSSTS", "user")
	want := Account{
		HomeAccountID:     "hid",
		Environment:       "env",
		Realm:             "realm",
		LocalAccountID:    "lid",
		AuthorityType:     "MSSTS",
		PreferredUsername: "user",
	}
	if diff := pretty.Compare(want, acc); diff != "" {
		t.Errorf("-want/+got:\n%s", diff)
	}
	if acc.IsZero() {
		t.Error("a populated account is not zero")
	}
	if !(Account{}).IsZero() {
		t.Error("an empty account is zero")
	}
}

func TestAccountJSONRoundTrip(t *testing.T) {
	acc := Account{
		HomeAccountID:     "hid",
		Environment:       "env",
		Realm:             "realm",
		LocalAccountID:    "lid",
		AuthorityType:     "MSSTS",
		PreferredUsername: "user",
		Name:              "User Name",
	}

	b, err := json.Marshal(acc)
	if err != nil {
		t.Fatal(err)
	}

	fields := map[string]interface{}{}
	if err := json.Unmarshal(b, &fields); err != nil {
		t.Fatal(err)
	}
	// The cache contract names differ from the Go field names.
	for key, want := range map[string]string{
		"home_account_id":  "hid",
		"environment":      "env",
		"realm":            "realm",
		"local_account_id": "lid",
		"authority_type":   "MSSTS",
		"username":         "user",
		"name":             "User Name",
	} {
		if fields[key] != want {
			t.Errorf("serialized field %q = %v, want %q", key, fields[key], want)
		}
	}

	var got Account
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if diff := pretty.Compare(acc, got); diff != "" {
		t.Errorf("round trip: -want/+got:\n%s", diff)
	}
}
