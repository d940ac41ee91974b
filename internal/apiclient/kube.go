package apiclient

import (
	"context"
	"fmt"
	"net/http"

	authenticationv1 "k8s.io/api/authentication/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"happa/pkg/auth"
)

const userAgent = "happa"

// RESTConfig returns a client-go configuration for the Management API at
// host that authenticates through sess. imp may be nil.
func RESTConfig(host, caFile string, sess Session, imp *auth.Impersonation) *rest.Config {
	cfg := &rest.Config{
		Host:      host,
		UserAgent: userAgent,
		TLSClientConfig: rest.TLSClientConfig{
			CAFile: caFile,
		},
	}
	cfg.Wrap(func(rt http.RoundTripper) http.RoundTripper {
		return NewTransport(rt, sess)
	})

	if imp != nil && imp.User != "" {
		cfg.Impersonate = rest.ImpersonationConfig{
			UserName: imp.User,
			Groups:   imp.Groups,
		}
	}
	return cfg
}

// WhoAmI asks the API server who the session authenticates as, taking
// impersonation into account.
func WhoAmI(ctx context.Context, cfg *rest.Config) (*authenticationv1.UserInfo, error) {
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}

	review, err := clientset.AuthenticationV1().SelfSubjectReviews().Create(ctx, &authenticationv1.SelfSubjectReview{}, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("self subject review failed: %w", err)
	}
	return &review.Status.UserInfo, nil
}
