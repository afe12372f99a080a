package lexiread

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContractsRoundTrip(t *testing.T) {
	user := User{Id: 42, Name: "Mia", Email: "mia@example.com", Avatar: "avatars/mia.png", Token: "tok"}
	values := []interface{}{
		&user,
		&AuthResponse{User: user},
		&ServerErrorResponse{Message: "invalid credentials"},
		&RegisterRequest{Name: "Mia", Email: "mia@example.com", Password: "pw", PasswordConfirmation: "pw", Avatar: "a.png"},
		&LoginRequest{Email: "mia@example.com", Password: "pw"},
		&ForgetPasswordRequest{Email: "mia@example.com"},
		&ForgetPasswordResponse{Data: "otp sent"},
		&ResendOTPRequest{Email: "mia@example.com"},
		&ResendOTPResponse{Data: "otp resent"},
		&VerifyOTPRequest{Email: "mia@example.com", OTP: "424242"},
		&VerifyOTPResponse{Data: VerifyOTPData{Message: "ok", ResetToken: "reset-1"}},
		&ResetPasswordRequest{Email: "mia@example.com", ResetToken: "reset-1", Password: "n", PasswordConfirmation: "n"},
		&ResetPasswordResponse{Data: "password updated"},
		&ChatMessage{Id: "m1", Text: "hi", IsUser: true, CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		&BotRequest{Message: "What is a gerund?"},
		&BotResponse{Reply: "hello"},
	}
	for _, v := range values {
		data, err := json.Marshal(v)
		require.Nil(t, err)
		out := reflect.New(reflect.TypeOf(v).Elem()).Interface()
		require.Nil(t, json.Unmarshal(data, out))
		assert.Equal(t, v, out, string(data))
	}
}

func TestWireNamesAreSnakeCase(t *testing.T) {
	data, err := json.Marshal(&RegisterRequest{Password: "a", PasswordConfirmation: "a"})
	require.Nil(t, err)
	assert.Contains(t, string(data), `"password_confirmation":"a"`)

	data, err = json.Marshal(&VerifyOTPResponse{Data: VerifyOTPData{ResetToken: "t"}})
	require.Nil(t, err)
	assert.JSONEq(t, `{"data":{"message":"","reset_token":"t"}}`, string(data))

	data, err = json.Marshal(&ChatMessage{IsUser: true})
	require.Nil(t, err)
	assert.Contains(t, string(data), `"is_user":true`)
	assert.Contains(t, string(data), `"created_at"`)
}

func TestRegisterRequestValidate(t *testing.T) {
	cases := []struct {
		name string
		req  RegisterRequest
		ok   bool
	}{
		{"valid", RegisterRequest{Email: "a@b.c", Password: "pw", PasswordConfirmation: "pw"}, true},
		{"missing email", RegisterRequest{Password: "pw", PasswordConfirmation: "pw"}, false},
		{"missing password", RegisterRequest{Email: "a@b.c"}, false},
		{"mismatch", RegisterRequest{Email: "a@b.c", Password: "pw", PasswordConfirmation: "px"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.req.Validate()
			if c.ok {
				assert.Nil(t, err)
			} else {
				assert.True(t, IsCode(err, CodeInvalidRequest))
			}
		})
	}
}

func TestResetPasswordRequestValidate(t *testing.T) {
	req := &ResetPasswordRequest{Password: "a", PasswordConfirmation: "a"}
	assert.True(t, IsCode(req.Validate(), CodeNoResetToken))

	req.ResetToken = "t"
	assert.Nil(t, req.Validate())

	req.PasswordConfirmation = "b"
	assert.True(t, IsCode(req.Validate(), CodeInvalidRequest))
}

func TestLoginRequestValidate(t *testing.T) {
	assert.True(t, IsCode((&LoginRequest{Email: " "}).Validate(), CodeInvalidRequest))
	assert.Nil(t, (&LoginRequest{Email: "a@b.c", Password: "p"}).Validate())
}
