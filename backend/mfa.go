package backend

import "context"

// RequestCode asks the backend to send a code for the factor in req.
func (c *Client) RequestCode(ctx context.Context, req MFARequest) (*MFARequestResult, error) {
	var out MFARequestResult
	if err := c.call(ctx, &out, "mfa_requestCode", req); err != nil {
		return nil, err
	}

	return &out, nil
}

// VerifyCode verifies a code and, on success, returns a session token.
func (c *Client) VerifyCode(ctx context.Context, req MFACodeRequest) (*MFAVerifyResult, error) {
	var out MFAVerifyResult
	if err := c.call(ctx, &out, "mfa_verifyCode", req); err != nil {
		return nil, err
	}

	return &out, nil
}

// RequestTransactionCode asks for a code gating a transaction on a safe.
func (c *Client) RequestTransactionCode(ctx context.Context, req MFARequest) (*MFARequestResult, error) {
	var out MFARequestResult
	if err := c.call(ctx, &out, "mfa_requestTransactionCode", req); err != nil {
		return nil, err
	}

	return &out, nil
}

// RequestUpdate starts the activation of a factor.
func (c *Client) RequestUpdate(ctx context.Context, req MFARequest) (*MFAUpdateResult, error) {
	var out MFAUpdateResult
	if err := c.call(ctx, &out, "mfa_requestUpdate", req); err != nil {
		return nil, err
	}

	return &out, nil
}

// VerifyUpdate confirms the activation of a factor with the code the user received.
func (c *Client) VerifyUpdate(ctx context.Context, req MFACodeRequest) (*MFAVerifyUpdateResult, error) {
	var out MFAVerifyUpdateResult
	if err := c.call(ctx, &out, "mfa_verifyUpdate", req); err != nil {
		return nil, err
	}

	return &out, nil
}

// RequestRemove starts the deactivation of a factor.
func (c *Client) RequestRemove(ctx context.Context, req MFARequest) (*MFASuccessResult, error) {
	var out MFASuccessResult
	if err := c.call(ctx, &out, "mfa_requestRemove", req); err != nil {
		return nil, err
	}

	return &out, nil
}

// VerifyRemove confirms the deactivation of a factor.
func (c *Client) VerifyRemove(ctx context.Context, req MFACodeRequest) (*MFASuccessResult, error) {
	var out MFASuccessResult
	if err := c.call(ctx, &out, "mfa_verifyRemove", req); err != nil {
		return nil, err
	}

	return &out, nil
}

// RegenerateTotpRecoveryCodes replaces the TOTP recovery codes.
func (c *Client) RegenerateTotpRecoveryCodes(ctx context.Context, req MFARequest) (*MFARecoveryCodesResult, error) {
	var out MFARecoveryCodesResult
	if err := c.call(ctx, &out, "mfa_regenerateTotpRecoveryCodes", req); err != nil {
		return nil, err
	}

	return &out, nil
}

// RemoveTotpUsingRecoveryCode removes TOTP using a recovery code. No signature is involved.
func (c *Client) RemoveTotpUsingRecoveryCode(ctx context.Context, req MFARecoveryRequest) (*MFASuccessResult, error) {
	var out MFASuccessResult
	if err := c.call(ctx, &out, "mfa_removeTotpUsingRecoveryCode", req); err != nil {
		return nil, err
	}

	return &out, nil
}
