package workflow

import "colony/internal/apperr"

func duplicateWorkflowVersionError(name, version string) error {
	return apperr.ManifestInvalid("workflow %q version %q already registered", name, version)
}
