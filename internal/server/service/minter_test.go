package service

import "testing"

func TestSecureMinter(t *testing.T) {
	t.Run("mints correct length", func(t *testing.T) {
		for _, length := range []int{8, 16, 24, 32} {
			m := NewSecureMinter(length)
			token, err := m.Mint()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(token) != length {
				t.Errorf("expected length %d, got %d", length, len(token))
			}
		}
	})

	t.Run("mints unique tokens", func(t *testing.T) {
		m := NewSecureMinter(16)
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			token, err := m.Mint()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if seen[token] {
				t.Fatalf("duplicate token minted: %s", token)
			}
			seen[token] = true
		}
	})

	t.Run("only contains URL-safe characters", func(t *testing.T) {
		token, err := NewSecureMinter(100).Mint()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
		for _, c := range token {
			found := false
			for _, valid := range charset {
				if c == valid {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("token contains invalid character: %c", c)
			}
		}
	})
}
