package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrNoZipResource = errors.New("no zip resource in package")

// A resource (downloadable file) of a CKAN open data package.
type CKANResource struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Format string `json:"format"`
	URL    string `json:"url"`
}

type ckanPackageShow struct {
	Success bool `json:"success"`
	Result  struct {
		Name      string         `json:"name"`
		Resources []CKANResource `json:"resources"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Builds the package_show URL for a package on a CKAN portal.
func CKANPackageURL(baseURL string, packageID string) string {
	return strings.TrimRight(baseURL, "/") +
		"/api/3/action/package_show?id=" + url.QueryEscape(packageID)
}

// Lists the resources of a CKAN package.
func CKANResources(
	ctx context.Context,
	d Downloader,
	baseURL string,
	packageID string,
	options GetOptions,
) ([]CKANResource, error) {
	body, err := d.Get(ctx, CKANPackageURL(baseURL, packageID), options)
	if err != nil {
		return nil, fmt.Errorf("getting package %s: %w", packageID, err)
	}

	resp := ckanPackageShow{}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding package %s: %w", packageID, err)
	}

	if !resp.Success {
		msg := "unknown error"
		if resp.Error != nil && resp.Error.Message != "" {
			msg = resp.Error.Message
		}
		return nil, fmt.Errorf("package %s: %s", packageID, msg)
	}

	return resp.Result.Resources, nil
}

// Returns the URL of the first ZIP resource in a CKAN package, or
// ErrNoZipResource if there is none.
func ResolveCKANZip(
	ctx context.Context,
	d Downloader,
	baseURL string,
	packageID string,
	options GetOptions,
) (string, error) {
	resources, err := CKANResources(ctx, d, baseURL, packageID, options)
	if err != nil {
		return "", err
	}

	for _, r := range resources {
		if strings.EqualFold(strings.TrimSpace(r.Format), "zip") && r.URL != "" {
			return r.URL, nil
		}
	}

	return "", fmt.Errorf("package %s: %w", packageID, ErrNoZipResource)
}
