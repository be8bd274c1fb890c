package types

import "fmt"

type VaultStatus struct {
	Initialized bool `json:"initialized"`
	Unlocked    bool `json:"unlocked"`
}

// PasswordRequest carries a password either in the clear (local transport) or RSA-OAEP wrapped.
type PasswordRequest struct {
	Password             string `json:"password,omitempty"`
	EncryptedPasswordB64 string `json:"encrypted_password_b64,omitempty"`
}

func (req *PasswordRequest) IsValid() error {
	if req.Password == "" && req.EncryptedPasswordB64 == "" {
		return fmt.Errorf("password or encrypted_password_b64 is required")
	}
	return nil
}

type ChangePasswordRequest struct {
	OldPassword             string `json:"old_password,omitempty"`
	EncryptedOldPasswordB64 string `json:"encrypted_old_password_b64,omitempty"`
	NewPassword             string `json:"new_password,omitempty"`
	EncryptedNewPasswordB64 string `json:"encrypted_new_password_b64,omitempty"`
}

func (req *ChangePasswordRequest) IsValid() error {
	if req.OldPassword == "" && req.EncryptedOldPasswordB64 == "" {
		return fmt.Errorf("old_password is required")
	}
	if req.NewPassword == "" && req.EncryptedNewPasswordB64 == "" {
		return fmt.Errorf("new_password is required")
	}
	return nil
}

// UnlockResponse carries the bearer token for the rest of the API when Unlocked is true.
type UnlockResponse struct {
	Unlocked    bool   `json:"unlocked"`
	AccessToken string `json:"access_token,omitempty"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
}

type RestoreBackupRequest struct {
	Key string `json:"key"`
}

func (req *RestoreBackupRequest) IsValid() error {
	if req.Key == "" {
		return fmt.Errorf("key is required")
	}
	return nil
}

type BackupResponse struct {
	Key string `json:"key"`
}

type RestoreBackupResponse struct {
	Wallets int `json:"wallets"`
}

type RegisterSessionRequest struct {
	EncryptedKeyB64 string `json:"encrypted_key_b64"`
}

func (req *RegisterSessionRequest) IsValid() error {
	if req.EncryptedKeyB64 == "" {
		return fmt.Errorf("encrypted_key_b64 is required")
	}
	return nil
}

type RegisterSessionResponse struct {
	Token string `json:"token"`
}

type PublicKeyResponse struct {
	PublicKeyPEM string `json:"public_key_pem"`
}
