package kubernetes

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// Source allows the IPs of pods matching a label selector. The pods are
// listed once when the access list is built.
type Source struct {
	clientset kubernetes.Interface
	namespace string
	selector  string
}

func NewSource(clientset kubernetes.Interface, namespace, selector string) *Source {
	return &Source{
		clientset: clientset,
		namespace: namespace,
		selector:  selector,
	}
}

func (s *Source) Name() string { return "kubernetes" }

func (s *Source) Entries(ctx context.Context) ([]string, error) {
	pods, err := s.clientset.CoreV1().Pods(s.namespace).List(ctx, metav1.ListOptions{LabelSelector: s.selector})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods in %s matching %q: %w", s.namespace, s.selector, err)
	}

	var entries []string
	for _, pod := range pods.Items {
		// Finished pods may have had their IP reassigned
		if pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed {
			continue
		}

		if len(pod.Status.PodIPs) == 0 {
			if pod.Status.PodIP != "" {
				entries = append(entries, pod.Status.PodIP)
			}
			continue
		}
		for _, ip := range pod.Status.PodIPs {
			entries = append(entries, ip.IP)
		}
	}
	return entries, nil
}
