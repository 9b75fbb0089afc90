package auth

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// adoResourceScope is the well-known Azure DevOps resource id. Tokens for
// this scope authorize calls to dev.azure.com REST endpoints.
const adoResourceScope = "499b84ac-1321-427f-aa17-267ca6975798/.default"

// AzureCLISource returns a credential source backed by the Azure CLI.
// The CLI is invoked non-interactively; when autoLaunchBrowser is set an
// interactive browser credential is used as fallback so a signed-out user
// is taken through the login flow instead of failing.
func AzureCLISource(autoLaunchBrowser bool) (CredentialSource, error) {
	cli, err := azidentity.NewAzureCLICredential(nil)
	if err != nil {
		return nil, fmt.Errorf("create azure cli credential: %w", err)
	}

	var browser *azidentity.InteractiveBrowserCredential
	if autoLaunchBrowser {
		browser, err = azidentity.NewInteractiveBrowserCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("create browser credential: %w", err)
		}
	}

	opts := policy.TokenRequestOptions{Scopes: []string{adoResourceScope}}

	return func(ctx context.Context) (Token, error) {
		tok, err := cli.GetToken(ctx, opts)
		if err != nil && browser != nil {
			tok, err = browser.GetToken(ctx, opts)
		}
		if err != nil {
			return Token{}, err
		}
		return Token{Value: tok.Token, ExpiresAt: tok.ExpiresOn}, nil
	}, nil
}
