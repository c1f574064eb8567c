package auth

import "testing"

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		email    string
		username string
		wantErr  string
	}{
		{"valid", "Str0ng!Pass", "alice@example.com", "alice", ""},
		{"too short", "S0!a", "", "", "Password must be at least 8 characters."},
		{"no upper", "weak0!pass", "", "", "Password must contain at least one uppercase letter."},
		{"no lower", "WEAK0!PASS", "", "", "Password must contain at least one lowercase letter."},
		{"no digit", "Weak!Pass", "", "", "Password must contain at least one number."},
		{"no special", "Weak0Pass", "", "", "Password must contain at least one special character (@, $, !, %, *, ?, &)."},
		{"contains email", "Xa1!bob@example.com", "bob@example.com", "", "Password should not contain the email address."},
		{"contains username", "Xa1!charlie", "", "charlie", "Password should not contain the username."},
		{"short in runes", "Ab1!éé", "", "", "Password must be at least 8 characters."},
		{"non-ascii upper only", "Äbcdefg1!", "", "", "Password must contain at least one uppercase letter."},
		{"non-ascii lower only", "ABCDEFG1!é", "", "", "Password must contain at least one lowercase letter."},
		{"arabic-indic digit", "Abcdefg!٣", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password, tt.email, tt.username)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("got %v, want %q", err, tt.wantErr)
			}
		})
	}
}
